package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nadmax/autocourse/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type httpSample struct {
	method, endpoint, status string
	duration                 time.Duration
}

type sampleSink struct {
	mu      sync.Mutex
	samples []httpSample
}

func (s *sampleSink) all() []httpSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]httpSample(nil), s.samples...)
}

// captureHTTPMetrics swaps the metrics recorder for the duration of the test.
func captureHTTPMetrics(t *testing.T) *sampleSink {
	t.Helper()
	sink := &sampleSink{}
	original := recordHTTPRequest
	recordHTTPRequest = func(method, endpoint, status string, d time.Duration) {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		sink.samples = append(sink.samples, httpSample{method, endpoint, status, d})
	}
	t.Cleanup(func() { recordHTTPRequest = original })
	return sink
}

func statusHandler(code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
	})
}

func TestResponseWriter_CapturesStatus(t *testing.T) {
	for _, code := range []int{http.StatusOK, http.StatusConflict, http.StatusServiceUnavailable} {
		rec := httptest.NewRecorder()
		rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

		rw.WriteHeader(code)

		assert.Equal(t, code, rw.statusCode)
		assert.Equal(t, code, rec.Code)
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := map[string]string{
		"/api/tasks/module-go-basics-1":         "/api/tasks/:key",
		"/api/tasks/course-1-v1":                "/api/tasks/:key",
		"/api/tasks/all-modules-go-basics/stop": "/api/tasks/:key/stop",
		"/api/tasks/module-go-basics-1/restart": "/api/tasks/module-go-basics-1/restart",
		"/api/tasks/":                           "/api/tasks/",
		"/api/tasks":                            "/api/tasks",
		"/api/history/runs/3f1c":                "/api/history/runs/:id",
		"/api/history/course/go-basics":         "/api/history/course/:slug",
		"/api/history":                          "/api/history",
		"/api/batches":                          "/api/batches",
		"/health":                               "/health",
		"/metrics":                              "/metrics",
	}

	for path, want := range tests {
		t.Run(path, func(t *testing.T) {
			assert.Equal(t, want, normalizeEndpoint(path))
		})
	}
}

func TestMetricsMiddleware(t *testing.T) {
	tests := []struct {
		method   string
		path     string
		code     int
		endpoint string
		status   string
	}{
		{http.MethodPost, "/api/batches", http.StatusAccepted, "/api/batches", "202"},
		{http.MethodPost, "/api/batches", http.StatusConflict, "/api/batches", "409"},
		{http.MethodGet, "/api/tasks/module-go-basics-1", http.StatusOK, "/api/tasks/:key", "200"},
		{http.MethodDelete, "/api/tasks/module-go-basics-1", http.StatusNoContent, "/api/tasks/:key", "204"},
		{http.MethodPost, "/api/tasks/all-modules-go-basics/stop", http.StatusOK, "/api/tasks/:key/stop", "200"},
		{http.MethodGet, "/api/history/runs/3f1c", http.StatusServiceUnavailable, "/api/history/runs/:id", "503"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path+" "+tt.status, func(t *testing.T) {
			sink := captureHTTPMetrics(t)

			rec := httptest.NewRecorder()
			MetricsMiddleware(statusHandler(tt.code)).ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			assert.Equal(t, tt.code, rec.Code)
			samples := sink.all()
			require.Len(t, samples, 1)
			assert.Equal(t, tt.method, samples[0].method)
			assert.Equal(t, tt.endpoint, samples[0].endpoint)
			assert.Equal(t, tt.status, samples[0].status)
		})
	}
}

func TestMetricsMiddleware_ImplicitOK(t *testing.T) {
	sink := captureHTTPMetrics(t)

	handler := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("[]"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/tasks", nil))

	samples := sink.all()
	require.Len(t, samples, 1)
	assert.Equal(t, "200", samples[0].status)
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	sink := captureHTTPMetrics(t)
	delay := 20 * time.Millisecond

	handler := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(delay)
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/dashboard/stats", nil))

	samples := sink.all()
	require.Len(t, samples, 1)
	assert.GreaterOrEqual(t, samples[0].duration, delay)
}

func TestLoggingMiddleware(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := &logger.Logger{SugaredLogger: zap.New(core).Sugar()}

	handler := LoggingMiddleware(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/boom" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/tasks", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, int64(http.StatusBadGateway), entries[1].ContextMap()["status"])
}
