package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/privacy"
	"github.com/raaihank/pii-sentinel/internal/websocket"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	reportKey    contextKey = "privacy_report"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// loggingMiddleware logs HTTP requests and responses
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey, requestID))
		w.Header().Set(RequestIDHeader, requestID)

		// Create response writer wrapper to capture response data
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		log := s.logger.WithRequestID(requestID)

		headers := map[string][]string(r.Header)
		if s.scrubber != nil {
			headers = s.scrubber.Scrub(headers, false)
		}
		log.LogRequest(r.Method, r.URL.Path, headers, int(r.ContentLength))

		// Process request
		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		log.Info("HTTP request completed",
			zap.Int("status_code", rw.statusCode),
			zap.Duration("duration", duration),
			zap.Int("response_size", rw.size),
		)

		route := routeName(r)
		if s.metrics != nil {
			s.metrics.ObserveRequest(route, r.Method, rw.statusCode, duration)
		}

		if s.wsHub != nil {
			s.wsHub.BroadcastEvent(websocket.Event{
				Type:      websocket.EventTypeRequestLog,
				Timestamp: time.Now(),
				RequestID: requestID,
				Data: websocket.RequestLogEvent{
					RequestID:    requestID,
					Method:       r.Method,
					Path:         r.URL.Path,
					StatusCode:   rw.statusCode,
					ClientIP:     websocket.ClientIP(r),
					UserAgent:    r.UserAgent(),
					DurationMS:   float64(duration.Microseconds()) / 1000,
					RequestSize:  r.ContentLength,
					ResponseSize: int64(rw.size),
				},
			})
		}
	})
}

// rateLimitMiddleware rejects clients that exceed their request budget
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := websocket.ClientIP(r)
		if !s.limiter.Allow(client) {
			s.logger.WithRequestID(getRequestID(r.Context())).Warn("Rate limit exceeded",
				zap.String("client_ip", client),
			)
			w.Header().Set("Retry-After", strconv.Itoa(1))
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// privacyMiddleware redacts PII from request bodies and scrubs sensitive
// headers before the request is proxied upstream
func (s *Server) privacyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.config.Privacy.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		log := s.logger.WithRequestID(getRequestID(r.Context()))

		if s.config.Server.MaxBodyBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			log.Warn("Failed to read request body", zap.Error(err))
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "failed to read request body"})
			return
		}
		r.Body.Close()

		if s.scrubber != nil {
			r.Header = s.scrubber.Scrub(r.Header, true)
		}

		start := time.Now()
		masked, report := s.redactBody(r.Context(), body)
		elapsed := time.Since(start)

		if report.HasFindings() {
			log.Info("PII detected in request",
				zap.Int("findings_count", report.Len()),
				zap.Strings("pii_types", report.Types()),
			)
			s.broadcastDetections(r, report, elapsed)
		}

		// Replace request body with masked version
		r.Body = io.NopCloser(bytes.NewReader(masked))
		r.ContentLength = int64(len(masked))
		r.Header.Set("Content-Length", strconv.Itoa(len(masked)))

		ctx := context.WithValue(r.Context(), reportKey, report)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// redactBody masks every string in a JSON body, or the whole body when it is
// not JSON. Offsets in the returned report are relative to the string they
// were found in.
func (s *Server) redactBody(ctx context.Context, body []byte) ([]byte, *privacy.Report) {
	report := privacy.NewReport()
	if len(body) == 0 {
		return body, report
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil || dec.More() {
		result := s.engine.Redact(ctx, string(body))
		return []byte(result.MaskedText), result.Report
	}

	changed := false
	doc = s.redactValue(ctx, doc, report, &changed)
	if !changed {
		return body, report
	}

	masked, err := json.Marshal(doc)
	if err != nil {
		// Never forward the unmasked body when re-encoding fails.
		result := s.engine.Redact(ctx, string(body))
		return []byte(result.MaskedText), result.Report
	}
	return masked, report
}

func (s *Server) redactValue(ctx context.Context, v interface{}, report *privacy.Report, changed *bool) interface{} {
	switch value := v.(type) {
	case string:
		result := s.engine.Redact(ctx, value)
		for _, f := range result.Report.Findings() {
			report.Add(f)
		}
		if result.MaskedText != value {
			*changed = true
		}
		return result.MaskedText
	case map[string]interface{}:
		for k, child := range value {
			value[k] = s.redactValue(ctx, child, report, changed)
		}
		return value
	case []interface{}:
		for i, child := range value {
			value[i] = s.redactValue(ctx, child, report, changed)
		}
		return value
	default:
		return v
	}
}

func (s *Server) broadcastDetections(r *http.Request, report *privacy.Report, elapsed time.Duration) {
	if s.wsHub == nil || !report.HasFindings() {
		return
	}

	requestID := getRequestID(r.Context())
	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypePIIDetection,
		Timestamp: time.Now(),
		RequestID: requestID,
		Data: websocket.PIIDetectionEvent{
			RequestID:     requestID,
			Method:        r.Method,
			Path:          r.URL.Path,
			ClientIP:      websocket.ClientIP(r),
			UserAgent:     r.UserAgent(),
			Backend:       string(s.engine.Backend().Name()),
			Findings:      websocket.Summarize(report.Findings()),
			TotalFindings: report.Len(),
			MaskedContent: true,
			ProcessingMS:  float64(elapsed.Microseconds()) / 1000,
		},
	})
}

// responseWriter wraps http.ResponseWriter to capture response data
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

// Flush keeps streaming responses from upstream providers working.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// getRequestID extracts request ID from context
func getRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return "unknown"
}

// ReportFromContext returns the redaction report attached by the privacy
// middleware, if any.
func ReportFromContext(ctx context.Context) (*privacy.Report, bool) {
	report, ok := ctx.Value(reportKey).(*privacy.Report)
	return report, ok
}
