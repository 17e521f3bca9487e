package logger

import (
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"example.com/simplehttp/internal/config"
)

// LogFields carries structured key/value pairs for an error log entry.
type LogFields map[string]interface{}

// parsedProxiesContainer holds pre-parsed trusted proxy IP addresses and CIDR blocks.
type parsedProxiesContainer struct {
	cidrs []*net.IPNet
	ips   []net.IP
}

// AccessEntry describes one completed request.
type AccessEntry struct {
	Request  *http.Request
	Time     time.Time
	Status   int
	Bytes    int64
	Duration time.Duration

	// Range is appended as " Range: <value>" when non-empty.
	Range string
	// Err routes the line to the error stream with " (<Err>)" appended.
	Err string
	// OmitUserAgent drops the user-agent segment, as on the error-handler path.
	OmitUserAgent bool
}

// AccessLogger handles access logging.
type AccessLogger struct {
	config        config.AccessLogConfig
	out           *target
	errOut        *target
	jsonOut       zerolog.Logger
	jsonErrOut    zerolog.Logger
	parsedProxies parsedProxiesContainer
}

// ErrorLogger handles diagnostic logging.
type ErrorLogger struct {
	logger zerolog.Logger
	output *target
}

// Logger is a general logger that contains specific loggers for access and errors.
type Logger struct {
	accessLog      *AccessLogger
	errorLog       *ErrorLogger
	globalLogLevel config.LogLevel
}

// target is a log destination that can be reopened in place, so zerolog
// loggers built on it survive SIGHUP log rotation.
type target struct {
	mu   sync.Mutex
	name string
	w    io.Writer
	file *os.File
}

func openTarget(name string) (*target, error) {
	switch name {
	case "", "stdout":
		return &target{name: "stdout", w: os.Stdout}, nil
	case "stderr":
		return &target{name: "stderr", w: os.Stderr}, nil
	}
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", name, err)
	}
	return &target{name: name, w: f, file: f}, nil
}

func writerTarget(w io.Writer) *target {
	if w == nil {
		w = io.Discard
	}
	return &target{name: "writer", w: w}
}

func (t *target) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.w.Write(p)
}

func (t *target) reopen() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	if err := t.file.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "error closing log file %s during reopen: %v\n", t.name, err)
	}
	f, err := os.OpenFile(t.name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.w, t.file = os.Stderr, nil
		return fmt.Errorf("failed to reopen log file %s: %w", t.name, err)
	}
	t.w, t.file = f, f
	return nil
}

func (t *target) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.w, t.file = io.Discard, nil
	return err
}

// NewLogger creates and configures a new Logger instance from a defaulted
// logging configuration.
func NewLogger(cfg *config.LoggingConfig) (*Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging configuration cannot be nil")
	}

	errorTarget := "stderr"
	if cfg.ErrorLog != nil && cfg.ErrorLog.Target != nil {
		errorTarget = *cfg.ErrorLog.Target
	}
	errOut, err := openTarget(errorTarget)
	if err != nil {
		return nil, fmt.Errorf("error log: %w", err)
	}

	var accessOut, accessErrOut *target
	if accessLogEnabled(cfg) {
		accessTarget, accessErrTarget := "stdout", "stderr"
		if cfg.AccessLog.Target != nil {
			accessTarget = *cfg.AccessLog.Target
		}
		if cfg.AccessLog.ErrorTarget != nil {
			accessErrTarget = *cfg.AccessLog.ErrorTarget
		}
		if accessOut, err = openTarget(accessTarget); err != nil {
			errOut.close()
			return nil, fmt.Errorf("access log: %w", err)
		}
		if accessErrOut, err = openTarget(accessErrTarget); err != nil {
			errOut.close()
			accessOut.close()
			return nil, fmt.Errorf("access log: %w", err)
		}
	}

	l, err := newLogger(cfg, accessOut, accessErrOut, errOut)
	if err != nil {
		errOut.close()
		if accessOut != nil {
			accessOut.close()
			accessErrOut.close()
		}
		return nil, err
	}
	return l, nil
}

// NewWithWriters builds a Logger that writes access lines to access (or
// accessErr for failures) and diagnostics to errorLog. File targets in cfg
// are ignored.
func NewWithWriters(cfg *config.LoggingConfig, access, accessErr, errorLog io.Writer) (*Logger, error) {
	if cfg == nil {
		cfg = &config.LoggingConfig{LogLevel: config.LogLevelInfo}
	}
	var accessOut, accessErrOut *target
	if accessLogEnabled(cfg) {
		accessOut, accessErrOut = writerTarget(access), writerTarget(accessErr)
	}
	return newLogger(cfg, accessOut, accessErrOut, writerTarget(errorLog))
}

// NewDiscardLogger returns a Logger that drops everything.
func NewDiscardLogger() *Logger {
	l, _ := newLogger(&config.LoggingConfig{LogLevel: config.LogLevelError}, nil, nil, writerTarget(io.Discard))
	return l
}

func accessLogEnabled(cfg *config.LoggingConfig) bool {
	return cfg.AccessLog != nil && (cfg.AccessLog.Enabled == nil || *cfg.AccessLog.Enabled)
}

func newLogger(cfg *config.LoggingConfig, accessOut, accessErrOut, errOut *target) (*Logger, error) {
	level := cfg.LogLevel
	if level == "" {
		level = config.LogLevelInfo
	}
	l := &Logger{
		globalLogLevel: level,
		errorLog: &ErrorLogger{
			logger: zerolog.New(errOut).Level(zerologLevel(level)).With().Timestamp().Logger(),
			output: errOut,
		},
	}

	if accessOut != nil {
		parsedProxies, err := preParseTrustedProxies(cfg.AccessLog.TrustedProxies)
		if err != nil {
			return nil, fmt.Errorf("failed to parse trusted proxies for access log: %w", err)
		}
		l.accessLog = &AccessLogger{
			config:        *cfg.AccessLog,
			out:           accessOut,
			errOut:        accessErrOut,
			jsonOut:       zerolog.New(accessOut),
			jsonErrOut:    zerolog.New(accessErrOut),
			parsedProxies: parsedProxies,
		}
	}
	return l, nil
}

func zerologLevel(level config.LogLevel) zerolog.Level {
	switch level {
	case config.LogLevelDebug:
		return zerolog.DebugLevel
	case config.LogLevelWarning:
		return zerolog.WarnLevel
	case config.LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// preParseTrustedProxies converts string representations of IPs and CIDRs
// into net.IP and *net.IPNet objects for efficient checking.
func preParseTrustedProxies(proxyStrings []string) (parsedProxiesContainer, error) {
	var container parsedProxiesContainer
	for _, pStr := range proxyStrings {
		pStr = strings.TrimSpace(pStr)
		if pStr == "" {
			continue
		}
		if strings.Contains(pStr, "/") {
			_, ipNet, err := net.ParseCIDR(pStr)
			if err != nil {
				return parsedProxiesContainer{}, fmt.Errorf("invalid CIDR string in trusted_proxies '%s': %w", pStr, err)
			}
			container.cidrs = append(container.cidrs, ipNet)
			continue
		}
		ip := net.ParseIP(pStr)
		if ip == nil {
			return parsedProxiesContainer{}, fmt.Errorf("invalid IP string in trusted_proxies '%s'", pStr)
		}
		container.ips = append(container.ips, ip)
	}
	return container, nil
}

// isIPTrusted checks if a given IP address is in the list of trusted proxies.
func isIPTrusted(ip net.IP, trustedProxies parsedProxiesContainer) bool {
	if ip == nil {
		return false
	}
	for _, trustedCIDR := range trustedProxies.cidrs {
		if trustedCIDR.Contains(ip) {
			return true
		}
	}
	for _, trustedIP := range trustedProxies.ips {
		if trustedIP.Equal(ip) {
			return true
		}
	}
	return false
}

// getRealClientIP determines the client's address from the direct peer and,
// when realIPHeaderName is set, the rightmost untrusted entry of that header.
func getRealClientIP(remoteAddr string, headers http.Header, realIPHeaderName string, trustedProxies parsedProxiesContainer) string {
	peer := remoteAddr
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		peer = host
	} else if ip := net.ParseIP(remoteAddr); ip != nil {
		peer = ip.String()
	}

	if realIPHeaderName == "" {
		return peer
	}
	headerValue := headers.Get(realIPHeaderName)
	if headerValue == "" {
		return peer
	}
	if !isIPTrusted(net.ParseIP(peer), trustedProxies) {
		return peer
	}

	// X-Forwarded-For is "client, proxy1, proxy2"; walk right to left.
	ipsInHeader := strings.Split(headerValue, ",")
	for i := len(ipsInHeader) - 1; i >= 0; i-- {
		ipStr := strings.TrimSpace(ipsInHeader[i])
		if ipStr == "" {
			continue
		}
		ip := net.ParseIP(ipStr)
		if ip == nil {
			return peer
		}
		if !isIPTrusted(ip, trustedProxies) {
			return ipStr
		}
	}
	return peer
}

// FormatTimestamp renders t as DD/MM/YYYY HH:MM:CS, where CS is the
// millisecond part rounded to centiseconds.
func FormatTimestamp(t time.Time) string {
	ms := t.Nanosecond() / int(time.Millisecond)
	cs := int(math.Round(float64(ms) / 10))
	return fmt.Sprintf("%02d/%02d/%d %02d:%02d:%02d", t.Day(), int(t.Month()), t.Year(), t.Hour(), t.Minute(), cs)
}

// LogAccess writes one access log line.
func (al *AccessLogger) LogAccess(e AccessEntry) {
	if al == nil || e.Request == nil {
		return
	}
	req := e.Request
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	realIPHeaderName := ""
	if al.config.RealIPHeader != nil {
		realIPHeaderName = *al.config.RealIPHeader
	}
	clientIP := getRealClientIP(req.RemoteAddr, req.Header, realIPHeaderName, al.parsedProxies)

	if al.config.Format == config.AccessLogFormatJSON {
		al.logAccessJSON(e, clientIP)
		return
	}

	var b strings.Builder
	b.WriteString(clientIP)
	b.WriteString(" - ")
	b.WriteString(FormatTimestamp(e.Time))
	b.WriteString(" - ")
	if !e.OmitUserAgent {
		ua := req.UserAgent()
		if ua == "" {
			ua = "-"
		}
		b.WriteString(ua)
		b.WriteString(" - ")
	}
	fmt.Fprintf(&b, "\"%s %s HTTP/%d.%d\" %d", req.Method, req.RequestURI, req.ProtoMajor, req.ProtoMinor, e.Status)
	if e.Range != "" {
		b.WriteString(" Range: ")
		b.WriteString(e.Range)
	}

	out := al.out
	if e.Err != "" {
		b.WriteString(" (")
		b.WriteString(e.Err)
		b.WriteString(")")
		out = al.errOut
	}
	b.WriteString("\n")
	io.WriteString(out, b.String())
}

func (al *AccessLogger) logAccessJSON(e AccessEntry, clientIP string) {
	req := e.Request
	_, port, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		port = "0"
	}

	zl := al.jsonOut
	if e.Err != "" {
		zl = al.jsonErrOut
	}
	ev := zl.Log().
		Str("ts", e.Time.UTC().Format("2006-01-02T15:04:05.000Z")).
		Str("remote_addr", clientIP).
		Str("remote_port", port).
		Str("protocol", req.Proto).
		Str("method", req.Method).
		Str("uri", req.RequestURI).
		Int("status", e.Status).
		Int64("resp_bytes", e.Bytes).
		Int64("duration_ms", e.Duration.Milliseconds())
	if ua := req.UserAgent(); ua != "" && !e.OmitUserAgent {
		ev = ev.Str("user_agent", ua)
	}
	if ref := req.Referer(); ref != "" {
		ev = ev.Str("referer", ref)
	}
	if e.Range != "" {
		ev = ev.Str("range", e.Range)
	}
	if e.Err != "" {
		ev = ev.Str("error", e.Err)
	}
	ev.Send()
}

// LogError writes a diagnostic entry at the given level.
func (el *ErrorLogger) LogError(level config.LogLevel, msg string, fields ...LogFields) {
	if el == nil {
		return
	}
	ev := el.logger.WithLevel(zerologLevel(level))
	if ev == nil {
		return
	}
	for _, f := range fields {
		if len(f) > 0 {
			ev = ev.Fields(map[string]interface{}(f))
		}
	}
	ev.Msg(msg)
}

func (l *Logger) Info(msg string, fields ...LogFields) {
	l.errorLog.LogError(config.LogLevelInfo, msg, fields...)
}

func (l *Logger) Error(msg string, fields ...LogFields) {
	l.errorLog.LogError(config.LogLevelError, msg, fields...)
}

func (l *Logger) Debug(msg string, fields ...LogFields) {
	l.errorLog.LogError(config.LogLevelDebug, msg, fields...)
}

func (l *Logger) Warn(msg string, fields ...LogFields) {
	l.errorLog.LogError(config.LogLevelWarning, msg, fields...)
}

// Access records a completed request.
func (l *Logger) Access(e AccessEntry) {
	if l.accessLog != nil {
		l.accessLog.LogAccess(e)
	}
}

// stdlibWriter feeds net/http's internal error messages into the error log.
type stdlibWriter struct{ l *Logger }

func (w stdlibWriter) Write(p []byte) (int, error) {
	w.l.Warn(strings.TrimRight(string(p), "\n"), LogFields{"source": "net/http"})
	return len(p), nil
}

// StdLogger returns a *log.Logger suitable for http.Server.ErrorLog.
func (l *Logger) StdLogger() *log.Logger {
	return log.New(stdlibWriter{l}, "", 0)
}

// Level returns the configured threshold for diagnostics.
func (l *Logger) Level() config.LogLevel { return l.globalLogLevel }

func (l *Logger) targets() []*target {
	ts := []*target{l.errorLog.output}
	if l.accessLog != nil {
		ts = append(ts, l.accessLog.out, l.accessLog.errOut)
	}
	return ts
}

// CloseLogFiles closes any open log files. Standard streams are left open.
func (l *Logger) CloseLogFiles() error {
	var firstErr error
	for _, t := range l.targets() {
		if err := t.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ReopenLogFiles closes and reopens file targets, for SIGHUP log rotation.
// A target that cannot be reopened falls back to stderr.
func (l *Logger) ReopenLogFiles() error {
	var firstErr error
	for _, t := range l.targets() {
		if err := t.reopen(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
