package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"example.com/simplehttp/internal/config"
	"example.com/simplehttp/internal/handlers/staticfileserver"
	"example.com/simplehttp/internal/logger"
	"example.com/simplehttp/internal/router"
	"example.com/simplehttp/internal/server"
	"example.com/simplehttp/internal/util"
)

const (
	programName = "Simple HTTP Server"
	description = "Simple HTTP server for serving local files and directories"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "1.0.0"

type serveCommand struct {
	directory string
	stdout    io.Writer
	stderr    io.Writer
}

func main() {
	cmd := newRootCommand(os.Stdout, os.Stderr)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	c := &serveCommand{stdout: stdout, stderr: stderr}
	cmd := &cobra.Command{
		Use:           "simplehttp [port]",
		Short:         programName,
		Long:          description,
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          c.run,
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.Flags().StringVarP(&c.directory, "directory", "d", "", "Specify alternative directory (default: current directory)")
	return cmd
}

func (c *serveCommand) run(cmd *cobra.Command, args []string) error {
	cfg, err := c.buildConfig(args)
	if err != nil {
		var de *config.DirectoryError
		if errors.As(err, &de) {
			fmt.Fprintf(c.stderr, "error: Directory doesn't exist: %s\n", de.Path)
		} else {
			fmt.Fprintf(c.stderr, "error: %v\n", err)
		}
		return err
	}
	if err := serve(cmd.Context(), cfg, c.stdout); err != nil {
		fmt.Fprintf(c.stderr, "error: %v\n", err)
		return err
	}
	return nil
}

func (c *serveCommand) buildConfig(args []string) (*config.Config, error) {
	port := config.DefaultPort
	if len(args) == 1 {
		port = config.ParsePort(args[0])
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to determine working directory: %w", err)
	}
	dir, err := config.ResolveDirectory(cwd, c.directory)
	if err != nil {
		return nil, err
	}
	return config.Default(dir, port)
}

// serve runs the server for cfg until ctx is cancelled or a shutdown signal
// arrives. "Listening at <port>" is printed to stdout once the listener is up.
func serve(ctx context.Context, cfg *config.Config, stdout io.Writer) error {
	lg, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer lg.CloseLogFiles()

	handler, err := staticfileserver.New(cfg, lg)
	if err != nil {
		return err
	}
	rtr, err := router.NewRouter(handler, lg)
	if err != nil {
		return fmt.Errorf("failed to create router: %w", err)
	}
	srv, err := server.NewServer(cfg, lg, rtr)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	startErr := make(chan error, 1)
	go func() {
		startErr <- srv.Start()
	}()

	select {
	case err := <-startErr:
		return err
	case <-srv.Ready():
	}

	port := *cfg.Server.Port
	if p := util.PortOf(srv.Addr()); p != 0 {
		port = p
	}
	color.New(color.FgGreen).Fprintf(stdout, "Listening at %d\n", port)

	select {
	case err := <-startErr:
		return err
	case <-ctx.Done():
		srv.Shutdown(context.Background())
		return <-startErr
	}
}
