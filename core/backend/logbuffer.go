package backend

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pretendo-dev/pretendo/core/logger"
)

// LogEntry is one completed request in the log buffer.
type LogEntry struct {
	ID             int    `json:"id"`
	Timestamp      string `json:"timestamp"`
	Method         string `json:"method"`
	URL            string `json:"url"`
	Status         int    `json:"status"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
	UserAgent      string `json:"userAgent,omitempty"`
	IP             string `json:"ip,omitempty"`
}

// LogBuffer keeps the most recent request log entries in a ring.
type LogBuffer struct {
	mu      sync.Mutex
	entries []LogEntry
	max     int
	nextID  int
}

// NewLogBuffer creates a buffer capped at max entries.
func NewLogBuffer(max int) *LogBuffer {
	return &LogBuffer{max: max, nextID: 1}
}

// Add appends an entry, evicting the oldest when the cap is reached.
func (l *LogBuffer) Add(e LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.ID = l.nextID
	l.nextID++
	l.entries = append(l.entries, e)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
}

// Filter describes a log query. Zero values match everything.
type Filter struct {
	Method      string
	Status      int
	URLContains string
	StatusClass string // "4xx" or "5xx"
}

// Entries returns the matching entries, newest last.
func (l *LogBuffer) Entries(f Filter) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogEntry, 0, len(l.entries))
	for _, e := range l.entries {
		if f.Method != "" && !strings.EqualFold(e.Method, f.Method) {
			continue
		}
		if f.Status != 0 && e.Status != f.Status {
			continue
		}
		if f.URLContains != "" && !strings.Contains(e.URL, f.URLContains) {
			continue
		}
		switch f.StatusClass {
		case "4xx":
			if e.Status < 400 || e.Status > 499 {
				continue
			}
		case "5xx":
			if e.Status < 500 || e.Status > 599 {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

// Clear drops all entries.
func (l *LogBuffer) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

// requestLogMiddleware records every completed request in the buffer and,
// when request logging is on, writes one access log line.
func (b *Backend) requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		b.logs.Add(LogEntry{
			Timestamp:      start.UTC().Format(time.RFC3339),
			Method:         r.Method,
			URL:            r.URL.String(),
			Status:         status,
			ResponseTimeMs: elapsed.Milliseconds(),
			UserAgent:      r.UserAgent(),
			IP:             r.RemoteAddr,
		})
		if b.cfg.LogRequestsEnabled() {
			logger.FromContext(r.Context()).Infof("%s %s %d %s", r.Method, r.URL.String(), status, elapsed)
		}
	})
}
