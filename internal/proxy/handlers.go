package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/privacy"
)

type textRequest struct {
	Text string `json:"text"`
}

type maskRequest struct {
	Text     string            `json:"text"`
	Findings []privacy.Finding `json:"findings"`
}

type scanResponse struct {
	Findings []privacy.Finding `json:"findings"`
	Resolved []privacy.Finding `json:"resolved"`
	Summary  string            `json:"summary"`
}

type redactResponse struct {
	privacy.Result
	Summary string `json:"summary"`
}

type ruleView struct {
	Name        string `json:"name"`
	Strategy    string `json:"strategy"`
	Pattern     string `json:"pattern"`
	MaskPattern string `json:"mask_pattern"`
	Replacement string `json:"mask_replacement,omitempty"`
}

type rulesResponse struct {
	Count       int        `json:"count"`
	Fingerprint string     `json:"fingerprint"`
	Rules       []ruleView `json:"rules"`
	Problems    []string   `json:"problems,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"backend":   string(s.engine.Backend().Name()),
	}

	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			// Scans still succeed, they just find nothing.
			body["status"] = "degraded"
			body["analyzer"] = err.Error()
		} else {
			body["analyzer"] = "ok"
		}
	}

	writeJSON(w, http.StatusOK, body)
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	rules := s.engine.Rules()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":              "pii-sentinel",
		"version":           Version,
		"privacy_enabled":   s.config.Privacy.Enabled,
		"backend":           string(s.engine.Backend().Name()),
		"rules_count":       rules.Len(),
		"rules_fingerprint": rules.Fingerprint(),
		"uptime":            time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	rules := s.engine.Rules()
	resp := rulesResponse{
		Count:       rules.Len(),
		Fingerprint: rules.Fingerprint(),
		Rules:       make([]ruleView, 0, rules.Len()),
	}
	for _, rule := range rules.Rules() {
		resp.Rules = append(resp.Rules, ruleView{
			Name:        rule.Name,
			Strategy:    rule.Strategy.String(),
			Pattern:     rule.Detection.String(),
			MaskPattern: rule.Mask.String(),
			Replacement: rule.Replacement,
		})
	}
	for _, problem := range rules.Problems() {
		resp.Problems = append(resp.Problems, problem.Error())
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !s.decode(w, r, &req) {
		return
	}

	report := s.engine.Scan(r.Context(), req.Text)
	resolved := privacy.ResolveOverlaps(report.Findings())

	summary := privacy.NewReport()
	summary.Replace(resolved)

	writeJSON(w, http.StatusOK, scanResponse{
		Findings: report.Findings(),
		Resolved: resolved,
		Summary:  summary.Text(),
	})
}

func (s *Server) handleMask(w http.ResponseWriter, r *http.Request) {
	var req maskRequest
	if !s.decode(w, r, &req) {
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"masked_text": s.engine.Mask(req.Text, req.Findings),
	})
}

func (s *Server) handleRedact(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !s.decode(w, r, &req) {
		return
	}

	result := s.engine.Redact(r.Context(), req.Text)
	s.broadcastDetections(r, result.Report, 0)

	writeJSON(w, http.StatusOK, redactResponse{Result: result, Summary: result.Report.Text()})
}

// decode reads a JSON body, writing a 400 or 413 response on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if s.config.Server.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// upstreamHandler proxies requests under /<provider> to target
func (s *Server) upstreamHandler(provider, rawTarget string) http.Handler {
	target, err := url.Parse(rawTarget)
	if err != nil || target.Host == "" {
		s.logger.Error("Invalid upstream URL, provider disabled",
			zap.String("provider", provider),
			zap.String("target", rawTarget),
		)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: provider + " upstream is not configured"})
		})
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	director := proxy.Director
	proxy.Director = func(req *http.Request) {
		// Remove /<provider> prefix from path
		req.URL.Path = strings.TrimPrefix(req.URL.Path, "/"+provider)
		if req.URL.Path == "" {
			req.URL.Path = "/"
		}
		req.URL.RawPath = ""
		director(req)
		req.Host = target.Host

		if _, ok := req.Header["User-Agent"]; !ok {
			req.Header.Set("User-Agent", "PII-Sentinel/"+Version)
		}

		s.logger.WithRequestID(getRequestID(req.Context())).Debug("Proxying request",
			zap.String("provider", provider),
			zap.String("target_url", req.URL.String()),
			zap.String("method", req.Method),
		)
	}

	// Handle errors
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Proxy error",
			zap.String("provider", provider),
			zap.Error(err),
		)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "upstream " + provider + " unavailable"})
	}

	// Set timeout
	proxy.Transport = &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: s.config.Upstream.Timeout,
	}

	return proxy
}
