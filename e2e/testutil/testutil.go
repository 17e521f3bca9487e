package testutil

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/net/http2"
	"gopkg.in/yaml.v3"

	"example.com/simplehttp/internal/config"
	"example.com/simplehttp/internal/handlers/staticfileserver"
	"example.com/simplehttp/internal/logger"
	"example.com/simplehttp/internal/router"
	"example.com/simplehttp/internal/server"
	"example.com/simplehttp/internal/util"
)

// TestRequest models an HTTP request for E2E testing.
type TestRequest struct {
	Method  string
	Path    string // raw request target, including any query string
	Headers http.Header
}

// BodyMatcher defines a way to match the response body.
type BodyMatcher interface {
	Match(body []byte) (bool, string) // match status and a description of the mismatch
}

// ExactBodyMatcher matches the body exactly.
type ExactBodyMatcher struct {
	ExpectedBody []byte
}

func (m *ExactBodyMatcher) Match(body []byte) (bool, string) {
	if bytes.Equal(m.ExpectedBody, body) {
		return true, ""
	}
	return false, fmt.Sprintf("bodies do not match exactly. Expected: %q, Got: %q", string(m.ExpectedBody), string(body))
}

// StringContainsBodyMatcher checks if the body contains a specific substring.
type StringContainsBodyMatcher struct {
	Substring string
}

func (m *StringContainsBodyMatcher) Match(body []byte) (bool, string) {
	if bytes.Contains(body, []byte(m.Substring)) {
		return true, ""
	}
	return false, fmt.Sprintf("body does not contain substring: %q. Body: %q", m.Substring, string(body))
}

// ExpectedResponse models the expected outcome of an HTTP request.
type ExpectedResponse struct {
	StatusCode   int
	Headers      map[string]string // exact header values; "" asserts absence
	BodyMatcher  BodyMatcher
	ExpectNoBody bool
}

// ActualResponse stores the outcome of an HTTP request.
type ActualResponse struct {
	StatusCode int
	Proto      string
	Headers    http.Header
	Body       []byte
}

// Verify compares actual against expected and returns every mismatch.
func Verify(expected ExpectedResponse, actual *ActualResponse) []string {
	var problems []string
	if expected.StatusCode != 0 && actual.StatusCode != expected.StatusCode {
		problems = append(problems, fmt.Sprintf("status: expected %d, got %d", expected.StatusCode, actual.StatusCode))
	}
	for name, want := range expected.Headers {
		got := actual.Headers.Get(name)
		if got != want {
			problems = append(problems, fmt.Sprintf("header %s: expected %q, got %q", name, want, got))
		}
	}
	if expected.ExpectNoBody {
		if len(actual.Body) != 0 {
			problems = append(problems, fmt.Sprintf("expected empty body, got %q", string(actual.Body)))
		}
	} else if expected.BodyMatcher != nil {
		if ok, msg := expected.BodyMatcher.Match(actual.Body); !ok {
			problems = append(problems, msg)
		}
	}
	return problems
}

// SyncBuffer is a bytes.Buffer safe for concurrent log writers and readers.
type SyncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Lines returns the non-empty lines written so far.
func (b *SyncBuffer) Lines() []string {
	var lines []string
	for _, l := range strings.Split(b.String(), "\n") {
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// ServerInstance is a server running inside the test process.
type ServerInstance struct {
	Config     *config.Config
	Address    string // host:port the server is listening on
	ConfigPath string

	AccessLog    *SyncBuffer
	AccessErrLog *SyncBuffer
	ErrorLog     *SyncBuffer

	srv      *server.Server
	startErr chan error

	mu           sync.Mutex
	cleanupFuncs []func() error
}

// WriteTempConfig writes configData as JSON, TOML or YAML into dir and
// returns the file path.
func WriteTempConfig(dir string, configData interface{}, format string) (string, error) {
	var (
		data []byte
		err  error
	)
	ext := "." + strings.ToLower(format)
	switch strings.ToLower(format) {
	case "json":
		data, err = json.MarshalIndent(configData, "", "  ")
	case "toml":
		buf := new(bytes.Buffer)
		if err = toml.NewEncoder(buf).Encode(configData); err == nil {
			data = buf.Bytes()
		}
	case "yaml":
		data, err = yaml.Marshal(configData)
	default:
		err = fmt.Errorf("unsupported config format: %s", format)
	}
	if err != nil {
		return "", fmt.Errorf("failed to marshal config data to %s: %w", format, err)
	}

	path := filepath.Join(dir, "config"+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write temp config file: %w", err)
	}
	return path, nil
}

// StartTestServer loads configFile, wires the full handler stack with logs
// captured in memory, and waits until the listener is up.
func StartTestServer(configFile string) (*ServerInstance, error) {
	if configFile == "" {
		return nil, fmt.Errorf("configFile cannot be empty")
	}
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}

	instance := &ServerInstance{
		Config:       cfg,
		ConfigPath:   configFile,
		AccessLog:    &SyncBuffer{},
		AccessErrLog: &SyncBuffer{},
		ErrorLog:     &SyncBuffer{},
		startErr:     make(chan error, 1),
	}

	lg, err := logger.NewWithWriters(cfg.Logging, instance.AccessLog, instance.AccessErrLog, instance.ErrorLog)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	handler, err := staticfileserver.New(cfg, lg)
	if err != nil {
		return nil, err
	}
	rtr, err := router.NewRouter(handler, lg)
	if err != nil {
		return nil, err
	}
	instance.srv, err = server.NewServer(cfg, lg, rtr)
	if err != nil {
		return nil, err
	}

	go func() {
		instance.startErr <- instance.srv.Start()
	}()

	select {
	case err := <-instance.startErr:
		return nil, fmt.Errorf("server failed to start: %w. Logs captured:\n%s", err, instance.ErrorLog.String())
	case <-instance.srv.Ready():
	case <-time.After(10 * time.Second):
		instance.srv.Shutdown(context.Background())
		return nil, fmt.Errorf("server not ready after 10s. Logs captured:\n%s", instance.ErrorLog.String())
	}

	instance.Address = fmt.Sprintf("127.0.0.1:%d", util.PortOf(instance.srv.Addr()))
	return instance, nil
}

// AddCleanupFunc adds a function to be called when the server instance is stopped.
func (s *ServerInstance) AddCleanupFunc(f func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupFuncs = append(s.cleanupFuncs, f)
}

// Stop shuts the server down gracefully and runs cleanup functions in
// reverse order.
func (s *ServerInstance) Stop() error {
	var errs []string

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Sprintf("shutdown: %v", err))
	} else if err := <-s.startErr; err != nil {
		errs = append(errs, fmt.Sprintf("start returned: %v", err))
	}

	s.mu.Lock()
	for i := len(s.cleanupFuncs) - 1; i >= 0; i-- {
		if err := s.cleanupFuncs[i](); err != nil {
			errs = append(errs, fmt.Sprintf("cleanup_func_%d: %v", i, err))
		}
	}
	s.cleanupFuncs = nil
	s.mu.Unlock()

	if len(errs) > 0 {
		return fmt.Errorf("server stopped, but errors occurred during stop/cleanup: %s", strings.Join(errs, "; "))
	}
	return nil
}

// HTTPClientType identifies the protocol a client speaks.
type HTTPClientType string

const (
	HTTP1Client HTTPClientType = "http1"
	H2CClient   HTTPClientType = "h2c"
)

// HTTPTestClient sends TestRequests to a server address.
type HTTPTestClient struct {
	kind   HTTPClientType
	client *http.Client
}

// NewHTTP1Client returns a client speaking HTTP/1.1.
func NewHTTP1Client() *HTTPTestClient {
	return &HTTPTestClient{
		kind: HTTP1Client,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: &http.Transport{DisableCompression: true},
		},
	}
}

// NewH2CClient returns a client speaking HTTP/2 over cleartext TCP with
// prior knowledge.
func NewH2CClient() *HTTPTestClient {
	return &HTTPTestClient{
		kind: H2CClient,
		client: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http2.Transport{
				AllowHTTP: true,
				DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, network, addr)
				},
			},
		},
	}
}

// Type reports the protocol the client speaks.
func (c *HTTPTestClient) Type() HTTPClientType { return c.kind }

// Do sends request to serverAddr and reads the whole response.
func (c *HTTPTestClient) Do(serverAddr string, request TestRequest) (*ActualResponse, error) {
	method := request.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequest(method, "http://"+serverAddr+request.Path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for name, values := range request.Headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", c.kind, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &ActualResponse{
		StatusCode: resp.StatusCode,
		Proto:      resp.Proto,
		Headers:    resp.Header,
		Body:       body,
	}, nil
}
