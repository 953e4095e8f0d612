package httpmiddleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// RoundTripperFunc is a function that implements http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Logger creates a debug-level logging middleware for outgoing game API calls.
// Session cookies and auth headers are never written to the log.
func Logger(logger *slog.Logger) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			start := time.Now()
			resp, err := next.RoundTrip(req)
			duration := time.Since(start)

			if err != nil {
				logger.Error("HTTP request failed",
					slog.String("method", req.Method),
					slog.String("url", req.URL.String()),
					slog.Duration("duration", duration),
					slog.Any("error", err))

				return resp, err
			}

			logger.Debug("HTTP request",
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int("status", resp.StatusCode),
				slog.Duration("duration", duration))

			return resp, nil
		})
	}
}

// isSensitiveHeader reports whether a header must be redacted from logs.
func isSensitiveHeader(name string) bool {
	switch strings.ToLower(name) {
	case "authorization", "cookie", "set-cookie", "x-session-token":
		return true
	}
	return false
}

// RedactHeaders returns a copy of headers safe for diagnostics output.
func RedactHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		if isSensitiveHeader(k) {
			out.Set(k, "[REDACTED]")
			continue
		}
		out[k] = v
	}
	return out
}
