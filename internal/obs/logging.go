package obs

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

type AccessLogEntry struct {
	Timestamp     string  `json:"ts"`
	Type          string  `json:"type"`
	RequestID     string  `json:"request_id"`
	Transport     string  `json:"transport"`
	Method        string  `json:"method"`
	Path          string  `json:"path"`
	Lat           float64 `json:"lat"`
	Lon           float64 `json:"lon"`
	Status        int     `json:"status"`
	DurationMS    int64   `json:"duration_ms"`
	Source        string  `json:"source"`
	ErrorCategory string  `json:"error_category"`
	UserAgent     string  `json:"user_agent,omitempty"`
	RemoteAddr    string  `json:"remote_addr,omitempty"`
}

type DispatchLogEntry struct {
	Timestamp     string `json:"ts"`
	Type          string `json:"type"`
	Key           string `json:"key"`
	Kind          string `json:"kind"`
	Waiters       int    `json:"waiters"`
	DurationMS    int64  `json:"duration_ms"`
	Result        string `json:"result"`
	Reason        string `json:"reason,omitempty"`
	ErrorCategory string `json:"error_category"`
}

var (
	outputMu sync.Mutex
	output   io.Writer = os.Stdout
)

// SetOutput redirects log lines, returning the previous writer.
func SetOutput(w io.Writer) io.Writer {
	outputMu.Lock()
	defer outputMu.Unlock()
	previous := output
	if w == nil {
		w = os.Stdout
	}
	output = w
	return previous
}

func LogAccess(ctx RequestContext) {
	entry := AccessLogEntry{
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		Type:          "access",
		RequestID:     defaultString(ctx.RequestID, "none"),
		Transport:     defaultString(ctx.Transport, "http"),
		Method:        ctx.Method,
		Path:          ctx.Path,
		Lat:           ctx.Lat,
		Lon:           ctx.Lon,
		Status:        ctx.Status,
		DurationMS:    ctx.Duration.Milliseconds(),
		Source:        defaultString(ctx.Source, "none"),
		ErrorCategory: defaultString(ctx.ErrorCategory, "none"),
		UserAgent:     ctx.UserAgent,
		RemoteAddr:    ctx.RemoteAddr,
	}
	writeLine(entry, entry.RequestID)
}

func LogDispatch(ctx DispatchContext) {
	result := "found"
	switch {
	case ctx.ErrorCategory != "":
		result = "error"
	case !ctx.Found:
		result = "absent"
	}
	entry := DispatchLogEntry{
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		Type:          "dispatch",
		Key:           ctx.Key,
		Kind:          defaultString(ctx.Kind, "unknown"),
		Waiters:       ctx.Waiters,
		DurationMS:    ctx.Duration.Milliseconds(),
		Result:        result,
		Reason:        ctx.Reason,
		ErrorCategory: defaultString(ctx.ErrorCategory, "none"),
	}
	writeLine(entry, entry.Key)
}

func writeLine(entry any, ref string) {
	outputMu.Lock()
	defer outputMu.Unlock()
	data, err := json.Marshal(entry)
	if err != nil {
		_, _ = fmt.Fprintf(output, "log_marshal_error ref=%s error=%v\n", ref, err)
		return
	}
	_, _ = output.Write(append(data, '\n'))
}

func defaultString(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
