package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/rpc-failover/internal/failover"
	"github.com/angeloszaimis/rpc-failover/internal/retry"
)

const (
	maxBodySize = 10 << 20

	HeaderRequestID = "X-Request-Id"
	HeaderEndpoint  = "X-Rpc-Endpoint"
)

// Executor runs an operation through the ranked endpoints.
// *failover.Orchestrator satisfies it.
type Executor interface {
	Execute(ctx context.Context, op retry.Operation) error
}

// CallRecorder receives one report per attempt.
type CallRecorder interface {
	RecordCall(endpoint string, duration time.Duration, success bool)
}

// upstreamError marks a 5xx answer, which counts as a failed attempt.
type upstreamError struct {
	status int
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d", e.status)
}

type upstreamResponse struct {
	endpoint    string
	status      int
	contentType string
	body        []byte
}

type RPCHandler struct {
	logger   *slog.Logger
	executor Executor
	client   *http.Client
	recorder CallRecorder
}

func NewRPCHandler(logger *slog.Logger, executor Executor, client *http.Client, recorder CallRecorder) *RPCHandler {
	if client == nil {
		client = &http.Client{}
	}
	return &RPCHandler{
		logger:   logger,
		executor: executor,
		client:   client,
		recorder: recorder,
	}
}

// ServeHTTP forwards a JSON-RPC body to the best available endpoint.
// Transport errors and 5xx answers move on to the next attempt; any other
// answer is returned to the client unchanged.
func (h *RPCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set(HeaderRequestID, requestID)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if len(body) > maxBodySize {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	h.logger.Debug("Received request",
		slog.String("from", extractClientIP(r)),
		slog.String("request_id", requestID),
		slog.Int("bytes", len(body)))

	var res upstreamResponse
	err = h.executor.Execute(r.Context(), func(ctx context.Context, attempt retry.Attempt) error {
		out, err := h.forward(ctx, attempt, requestID, r.Header.Get("Content-Type"), body)
		if err != nil {
			return err
		}
		res = out
		return nil
	})
	if err != nil {
		h.writeError(w, r, requestID, err)
		return
	}

	if res.contentType != "" {
		w.Header().Set("Content-Type", res.contentType)
	}
	w.Header().Set(HeaderEndpoint, res.endpoint)
	w.WriteHeader(res.status)
	_, _ = w.Write(res.body)
}

func (h *RPCHandler) forward(ctx context.Context, attempt retry.Attempt, requestID, contentType string, body []byte) (upstreamResponse, error) {
	url := attempt.Endpoint.URL()
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, attempt.Endpoint.HTTPURL(), bytes.NewReader(body))
	if err != nil {
		return upstreamResponse{}, err
	}
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(HeaderRequestID, requestID)

	res, err := h.client.Do(req)
	if err != nil {
		h.record(url, start, false)
		return upstreamResponse{}, err
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusInternalServerError {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxBodySize))
		h.record(url, start, false)
		return upstreamResponse{}, &upstreamError{status: res.StatusCode}
	}

	payload, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		h.record(url, start, false)
		return upstreamResponse{}, err
	}

	h.record(url, start, true)
	return upstreamResponse{
		endpoint:    url,
		status:      res.StatusCode,
		contentType: res.Header.Get("Content-Type"),
		body:        payload,
	}, nil
}

func (h *RPCHandler) record(url string, start time.Time, success bool) {
	if h.recorder == nil {
		return
	}
	h.recorder.RecordCall(url, time.Since(start), success)
}

type failureBody struct {
	Endpoint string `json:"endpoint"`
	Error    string `json:"error"`
}

type errorBody struct {
	Error     string        `json:"error"`
	RequestID string        `json:"request_id"`
	Failures  []failureBody `json:"failures,omitempty"`
}

func (h *RPCHandler) writeError(w http.ResponseWriter, r *http.Request, requestID string, err error) {
	status := http.StatusBadGateway
	body := errorBody{Error: err.Error(), RequestID: requestID}

	var exhausted *failover.ExhaustedError
	switch {
	case errors.Is(err, failover.ErrNoEndpointsConfigured), errors.Is(err, failover.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.As(err, &exhausted):
		body.Error = failover.ErrAllEndpointsExhausted.Error()
		for _, f := range exhausted.Failures {
			body.Failures = append(body.Failures, failureBody{Endpoint: f.Endpoint, Error: f.Err.Error()})
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
		if r.Context().Err() != nil {
			h.logger.Debug("Client went away", slog.String("request_id", requestID))
		}
	}

	h.logger.Warn("Request failed",
		slog.String("request_id", requestID),
		slog.Int("status", status),
		slog.String("error", err.Error()))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}
