package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/haasonsaas/kirogate/internal/anthropic"
	"github.com/haasonsaas/kirogate/internal/kiro"
)

// apiError is the client-facing error envelope, shaped like the API the
// gateway fronts.
type apiError struct {
	Type  string         `json:"type"`
	Error apiErrorDetail `json:"error"`
}

type apiErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req anthropic.Request
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request_error",
			"request body is not a valid messages request: "+err.Error())
		return
	}

	res, err := s.dispatcher.Dispatch(r.Context(), &req)
	if err != nil {
		s.dispatchError(w, &req, err, start)
		return
	}
	defer res.Body.Close()

	if s.metrics != nil {
		s.metrics.RecordRequest(req.Model, "success", time.Since(start).Seconds())
	}

	contentType := res.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	if len(res.ToolNames) > 0 {
		if names, err := json.Marshal(res.ToolNames); err == nil {
			w.Header().Set(ToolNamesHeader, string(names))
		}
	}
	w.WriteHeader(res.Status)

	// Pass the upstream stream through verbatim, flushing as chunks land so
	// streaming clients see tokens immediately.
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32<<10)
	for {
		n, readErr := res.Body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				s.logger.Debug("client went away mid-stream", "error", writeErr)
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr == io.EOF {
			return
		}
		if readErr != nil {
			s.logger.Warn("upstream stream broke", "error", readErr)
			return
		}
	}
}

// dispatchError maps a dispatch failure onto the client-facing status and
// error body.
func (s *Server) dispatchError(w http.ResponseWriter, req *anthropic.Request, err error, start time.Time) {
	status := http.StatusInternalServerError
	message := err.Error()
	kind := "internal"
	if ge, ok := kiro.AsGatewayError(err); ok {
		status = ge.HTTPStatus()
		message = ge.Message
		kind = string(ge.Kind)
		if ge.Body != "" {
			message += ": " + ge.Body
		}
	}
	if s.metrics != nil {
		s.metrics.RecordRequest(req.Model, "error", time.Since(start).Seconds())
		s.metrics.RecordUpstreamError(kind, strconv.Itoa(status))
	}
	s.writeError(w, status, errorTypeFor(status), message)
}

// errorTypeFor picks the API error type a client expects for a status.
func errorTypeFor(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return "rate_limit_error"
	case status == http.StatusUnauthorized:
		return "authentication_error"
	case status == http.StatusForbidden:
		return "permission_error"
	case status == http.StatusNotFound:
		return "not_found_error"
	case status == http.StatusServiceUnavailable:
		return "overloaded_error"
	case status >= 400 && status < 500:
		return "invalid_request_error"
	default:
		return "api_error"
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiError{
		Type:  "error",
		Error: apiErrorDetail{Type: errType, Message: message},
	})
}

type healthResponse struct {
	Status   string `json:"status"`
	Accounts int    `json:"accounts"`
	Active   int    `json:"active"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.pool != nil {
		resp.Accounts = s.pool.Len()
		resp.Active = s.pool.ActiveCount()
		if resp.Active == 0 {
			resp.Status = "degraded"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// publishPoolMetrics pushes the pool composition into the account gauge.
// Called from the serve loop on a ticker.
func (s *Server) publishPoolMetrics() {
	if s.metrics == nil || s.pool == nil {
		return
	}
	counts := make(map[string]int)
	for _, acct := range s.pool.Snapshot() {
		counts[string(acct.Status)]++
	}
	s.metrics.SetAccountCounts(counts)
}

// StartMetricsLoop refreshes pool gauges until ctx is done.
func (s *Server) StartMetricsLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	s.publishPoolMetrics()
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.publishPoolMetrics()
			}
		}
	}()
}
