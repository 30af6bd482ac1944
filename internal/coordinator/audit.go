package coordinator

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AuditRecord is one JSON line written for every mutating admin action, per
// spec.md §4.3.
type AuditRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	Action       string    `json:"action"`
	ClientIP     string    `json:"client_ip,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id,omitempty"`
	ResourceName string    `json:"resource_name,omitempty"`
	Details      string    `json:"details,omitempty"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
}

// AuditLog appends JSON-line audit records to a size-rotated file. Writes
// are best-effort: a failure to append is logged and otherwise swallowed,
// since spec.md §4.3 requires that a logging failure never fail the action
// it describes.
type AuditLog struct {
	mu          sync.Mutex
	path        string
	maxBytes    int64
	maxBackups  int
	file        *os.File
	written     int64
	log         zerolog.Logger
}

// NewAuditLog opens (or creates) path for append, rotating by size with up
// to maxBackups retained copies named path.1, path.2, ....
func NewAuditLog(path string, maxBytes int64, maxBackups int, log zerolog.Logger) (*AuditLog, error) {
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024
	}
	if maxBackups <= 0 {
		maxBackups = 5
	}
	a := &AuditLog{path: path, maxBytes: maxBytes, maxBackups: maxBackups, log: log}
	if err := a.open(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *AuditLog) open() error {
	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	a.file = f
	a.written = info.Size()
	return nil
}

// Write appends rec as one JSON line, rotating the file first if it has
// grown past maxBytes. Errors are logged, never returned to the caller's
// calling action.
func (a *AuditLog) Write(rec AuditRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	line, err := json.Marshal(rec)
	if err != nil {
		a.log.Warn().Err(err).Msg("audit record marshal failed")
		return
	}
	line = append(line, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.written+int64(len(line)) > a.maxBytes {
		if err := a.rotateLocked(); err != nil {
			a.log.Warn().Err(err).Msg("audit log rotation failed")
		}
	}
	n, err := a.file.Write(line)
	if err != nil {
		a.log.Warn().Err(err).Msg("audit log write failed")
		return
	}
	a.written += int64(n)
}

func (a *AuditLog) rotateLocked() error {
	if a.file != nil {
		a.file.Close()
	}
	for i := a.maxBackups - 1; i >= 1; i-- {
		src := backupName(a.path, i)
		dst := backupName(a.path, i+1)
		if _, err := os.Stat(src); err == nil {
			_ = os.Rename(src, dst)
		}
	}
	if _, err := os.Stat(a.path); err == nil {
		_ = os.Rename(a.path, backupName(a.path, 1))
	}
	a.written = 0
	return a.open()
}

func backupName(path string, n int) string {
	return path + "." + strconv.Itoa(n)
}

// Close flushes and closes the underlying file.
func (a *AuditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	return a.file.Close()
}

// shouldAudit reports whether r names a mutating admin action worth
// recording: GET/HEAD requests and non-admin paths are excluded.
func shouldAudit(r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return false
	}
	return strings.HasPrefix(r.URL.Path, "/api/admin")
}

// auditMiddleware wraps admin routes, recording a best-effort audit line for
// every mutating call using the resource/action the handler attaches to the
// request context via withAuditInfo.
func auditMiddleware(audit *AuditLog, resolver *clientIPResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &statusCapture{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			if audit == nil || !shouldAudit(r) {
				return
			}
			info, _ := auditInfoFromContext(r.Context())
			audit.Write(AuditRecord{
				Action:       info.Action,
				ClientIP:     resolver.ClientIP(r),
				UserAgent:    truncate(r.UserAgent(), 200),
				ResourceType: info.ResourceType,
				ResourceID:   info.ResourceID,
				ResourceName: info.ResourceName,
				Details:      info.Details,
				Success:      rw.status < 400,
				Error:        truncate(info.Error, 500),
				RequestID:    requestID(r),
			})
		})
	}
}

type statusCapture struct {
	http.ResponseWriter
	status int
}

func (s *statusCapture) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

type auditInfo struct {
	Action       string
	ResourceType string
	ResourceID   string
	ResourceName string
	Details      string
	Error        string
}

type auditInfoContextKey struct{}

func withAuditInfo(ctx context.Context, info auditInfo) context.Context {
	return context.WithValue(ctx, auditInfoContextKey{}, info)
}

func auditInfoFromContext(ctx context.Context) (auditInfo, bool) {
	info, ok := ctx.Value(auditInfoContextKey{}).(auditInfo)
	return info, ok
}
