package logger

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/simplehttp/internal/config"
)

func strPtr(s string) *string { return &s }

// newTestLogger returns a Logger writing into three buffers.
func newTestLogger(t *testing.T, cfg *config.LoggingConfig) (l *Logger, access, accessErr, errLog *bytes.Buffer) {
	t.Helper()
	access, accessErr, errLog = new(bytes.Buffer), new(bytes.Buffer), new(bytes.Buffer)
	if cfg == nil {
		cfg = &config.LoggingConfig{
			LogLevel:  config.LogLevelInfo,
			AccessLog: &config.AccessLogConfig{Format: config.AccessLogFormatCommon},
		}
	}
	l, err := NewWithWriters(cfg, access, accessErr, errLog)
	require.NoError(t, err)
	return l, access, accessErr, errLog
}

func newTestRequest(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "192.0.2.1:54321"
	req.Header.Set("User-Agent", "curl/8.0")
	return req
}

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{"padded fields", time.Date(2024, time.March, 5, 7, 8, 9, 40*int(time.Millisecond), time.UTC), "05/03/2024 07:08:04"},
		{"rounds half up", time.Date(2024, time.December, 31, 23, 59, 0, 125*int(time.Millisecond), time.UTC), "31/12/2024 23:59:13"},
		{"zero millis", time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC), "01/01/2025 00:00:00"},
		{"rounds up to 100", time.Date(2025, time.January, 1, 12, 30, 0, 996*int(time.Millisecond), time.UTC), "01/01/2025 12:30:100"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FormatTimestamp(tc.in))
		})
	}
}

func TestLogAccess_Common(t *testing.T) {
	l, access, accessErr, _ := newTestLogger(t, nil)
	ts := time.Date(2024, time.March, 5, 7, 8, 9, 0, time.UTC)

	l.Access(AccessEntry{Request: newTestRequest("GET", "/a.txt?x=1"), Time: ts, Status: 200})

	assert.Equal(t, "192.0.2.1 - 05/03/2024 07:08:00 - curl/8.0 - \"GET /a.txt?x=1 HTTP/1.1\" 200\n", access.String())
	assert.Empty(t, accessErr.String())
}

func TestLogAccess_CommonRangeAndFailure(t *testing.T) {
	l, access, accessErr, _ := newTestLogger(t, nil)
	ts := time.Date(2024, time.March, 5, 7, 8, 9, 0, time.UTC)

	l.Access(AccessEntry{Request: newTestRequest("GET", "/sub/"), Time: ts, Status: 200, Range: "0-99"})
	assert.True(t, strings.HasSuffix(access.String(), "\"GET /sub/ HTTP/1.1\" 200 Range: 0-99\n"), access.String())

	l.Access(AccessEntry{Request: newTestRequest("GET", "/missing"), Time: ts, Status: 404, Err: "Path does not exist"})
	assert.Equal(t, "192.0.2.1 - 05/03/2024 07:08:00 - curl/8.0 - \"GET /missing HTTP/1.1\" 404 (Path does not exist)\n", accessErr.String())

	accessErr.Reset()
	l.Access(AccessEntry{Request: newTestRequest("GET", "/gone"), Time: ts, Status: 500, Err: "boom", OmitUserAgent: true})
	assert.Equal(t, "192.0.2.1 - 05/03/2024 07:08:00 - \"GET /gone HTTP/1.1\" 500 (boom)\n", accessErr.String())
}

func TestLogAccess_MissingUserAgent(t *testing.T) {
	l, access, _, _ := newTestLogger(t, nil)
	req := newTestRequest("GET", "/")
	req.Header.Del("User-Agent")

	l.Access(AccessEntry{Request: req, Status: 200})
	assert.Contains(t, access.String(), " - - \"GET / HTTP/1.1\" 200")
}

func TestLogAccess_JSON(t *testing.T) {
	cfg := &config.LoggingConfig{
		LogLevel:  config.LogLevelInfo,
		AccessLog: &config.AccessLogConfig{Format: config.AccessLogFormatJSON},
	}
	l, access, accessErr, _ := newTestLogger(t, cfg)

	l.Access(AccessEntry{Request: newTestRequest("GET", "/dir/"), Status: 200, Bytes: 42, Range: "0-1"})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(access.Bytes(), &entry))
	assert.Equal(t, "192.0.2.1", entry["remote_addr"])
	assert.Equal(t, "54321", entry["remote_port"])
	assert.Equal(t, "GET", entry["method"])
	assert.Equal(t, "/dir/", entry["uri"])
	assert.Equal(t, float64(200), entry["status"])
	assert.Equal(t, float64(42), entry["resp_bytes"])
	assert.Equal(t, "curl/8.0", entry["user_agent"])
	assert.Equal(t, "0-1", entry["range"])
	assert.Empty(t, accessErr.String())

	l.Access(AccessEntry{Request: newTestRequest("GET", "/x"), Status: 404, Err: "nope"})
	require.NoError(t, json.Unmarshal(accessErr.Bytes(), &entry))
	assert.Equal(t, "nope", entry["error"])
}

func TestLogAccess_Disabled(t *testing.T) {
	f := false
	cfg := &config.LoggingConfig{AccessLog: &config.AccessLogConfig{Enabled: &f}}
	l, access, accessErr, _ := newTestLogger(t, cfg)

	l.Access(AccessEntry{Request: newTestRequest("GET", "/"), Status: 200})
	assert.Empty(t, access.String())
	assert.Empty(t, accessErr.String())
}

func TestErrorLogger_Levels(t *testing.T) {
	cfg := &config.LoggingConfig{LogLevel: config.LogLevelWarning}
	l, _, _, errLog := newTestLogger(t, cfg)

	l.Debug("debug message", nil)
	l.Info("info message", LogFields{"k": "v"})
	assert.Empty(t, errLog.String(), "messages below WARNING must be dropped")

	l.Warn("warn message", LogFields{"path": "/x"})
	l.Error("error message", LogFields{"status": 500})

	lines := strings.Split(strings.TrimSpace(errLog.String()), "\n")
	require.Len(t, lines, 2)

	var warn, errEntry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &warn))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &errEntry))
	assert.Equal(t, "warn", warn["level"])
	assert.Equal(t, "warn message", warn["message"])
	assert.Equal(t, "/x", warn["path"])
	assert.Contains(t, warn, "time")
	assert.Equal(t, "error", errEntry["level"])
	assert.Equal(t, float64(500), errEntry["status"])
}

func TestGetRealClientIP(t *testing.T) {
	proxies, err := preParseTrustedProxies([]string{"10.0.0.0/8", " 192.0.2.1 ", ""})
	require.NoError(t, err)

	tests := []struct {
		name       string
		remoteAddr string
		header     string
		headerName string
		want       string
	}{
		{"no header configured", "192.0.2.1:1234", "203.0.113.5", "", "192.0.2.1"},
		{"header absent", "192.0.2.1:1234", "", "X-Forwarded-For", "192.0.2.1"},
		{"untrusted peer ignores header", "198.51.100.7:1", "203.0.113.5", "X-Forwarded-For", "198.51.100.7"},
		{"trusted peer uses header", "192.0.2.1:1234", "203.0.113.5", "X-Forwarded-For", "203.0.113.5"},
		{"rightmost untrusted wins", "10.1.1.1:80", "203.0.113.5, 198.51.100.2, 10.2.2.2", "X-Forwarded-For", "198.51.100.2"},
		{"all trusted falls back to peer", "10.1.1.1:80", "10.3.3.3", "X-Forwarded-For", "10.1.1.1"},
		{"malformed entry falls back to peer", "10.1.1.1:80", "203.0.113.5, garbage", "X-Forwarded-For", "10.1.1.1"},
		{"bare ip remote", "::1", "", "", "::1"},
		{"unparseable remote kept", "@unix", "", "", "@unix"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := http.Header{}
			if tc.header != "" {
				h.Set("X-Forwarded-For", tc.header)
			}
			assert.Equal(t, tc.want, getRealClientIP(tc.remoteAddr, h, tc.headerName, proxies))
		})
	}
}

func TestPreParseTrustedProxies_Invalid(t *testing.T) {
	_, err := preParseTrustedProxies([]string{"10.0.0.0/33"})
	assert.ErrorContains(t, err, "invalid CIDR string")

	_, err = preParseTrustedProxies([]string{"not-an-ip"})
	assert.ErrorContains(t, err, "invalid IP string")

	_, err = NewWithWriters(&config.LoggingConfig{AccessLog: &config.AccessLogConfig{TrustedProxies: []string{"x"}}}, nil, nil, nil)
	assert.ErrorContains(t, err, "failed to parse trusted proxies")
}

func TestNewLogger_FileTargetsAndReopen(t *testing.T) {
	dir := t.TempDir()
	accessPath := filepath.Join(dir, "access.log")
	errorPath := filepath.Join(dir, "error.log")

	cfg := &config.LoggingConfig{
		LogLevel: config.LogLevelInfo,
		AccessLog: &config.AccessLogConfig{
			Target:      strPtr(accessPath),
			ErrorTarget: strPtr(accessPath),
			Format:      config.AccessLogFormatCommon,
		},
		ErrorLog: &config.ErrorLogConfig{Target: strPtr(errorPath)},
	}
	l, err := NewLogger(cfg)
	require.NoError(t, err)

	l.Access(AccessEntry{Request: newTestRequest("GET", "/before"), Status: 200})
	l.Info("before rotate", nil)

	rotated := accessPath + ".1"
	require.NoError(t, os.Rename(accessPath, rotated))
	require.NoError(t, l.ReopenLogFiles())

	l.Access(AccessEntry{Request: newTestRequest("GET", "/after"), Status: 200})
	require.NoError(t, l.CloseLogFiles())

	old, err := os.ReadFile(rotated)
	require.NoError(t, err)
	assert.Contains(t, string(old), "/before")
	assert.NotContains(t, string(old), "/after")

	fresh, err := os.ReadFile(accessPath)
	require.NoError(t, err)
	assert.Contains(t, string(fresh), "/after")

	errData, err := os.ReadFile(errorPath)
	require.NoError(t, err)
	assert.Contains(t, string(errData), "before rotate")
}

func TestNewLogger_Errors(t *testing.T) {
	_, err := NewLogger(nil)
	assert.ErrorContains(t, err, "logging configuration cannot be nil")

	bad := filepath.Join(t.TempDir(), "missing-dir", "x.log")
	_, err = NewLogger(&config.LoggingConfig{ErrorLog: &config.ErrorLogConfig{Target: strPtr(bad)}})
	assert.ErrorContains(t, err, "failed to open log file")
}

func TestNewDiscardLogger(t *testing.T) {
	l := NewDiscardLogger()
	l.Error("dropped", LogFields{"a": 1})
	l.Access(AccessEntry{Request: newTestRequest("GET", "/"), Status: 200})
	assert.NoError(t, l.CloseLogFiles())
}

func TestStdLogger(t *testing.T) {
	l, _, _, errLog := newTestLogger(t, nil)

	l.StdLogger().Printf("http: TLS handshake error from %s", "192.0.2.1:1")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(errLog.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "http: TLS handshake error from 192.0.2.1:1", entry["message"])
	assert.Equal(t, "net/http", entry["source"])
}
