package healthcheck

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angeloszaimis/rpc-failover/internal/endpoint"
)

type ErrorKind string

const (
	ErrorKindTimeout    ErrorKind = "timeout"
	ErrorKindConnection ErrorKind = "connection"
	ErrorKindStatus     ErrorKind = "status"
	ErrorKindRPC        ErrorKind = "rpc"
)

// ProbeError carries the classification of a failed probe.
type ProbeError struct {
	Kind ErrorKind
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// Classify maps a probe error to the kind recorded in history.
func Classify(err error) ErrorKind {
	var probeErr *ProbeError
	if errors.As(err, &probeErr) {
		return probeErr.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorKindTimeout
	}

	return ErrorKindConnection
}

// Prober checks a single endpoint. It must honour ctx; the monitor records a
// timeout either way once the deadline passes.
type Prober interface {
	Probe(ctx context.Context, ep endpoint.Endpoint) error
}

type ProberFunc func(ctx context.Context, ep endpoint.Endpoint) error

func (f ProberFunc) Probe(ctx context.Context, ep endpoint.Endpoint) error {
	return f(ctx, ep)
}

const maxProbeBody = 1 << 20

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
}

type rpcResponse struct {
	Result *struct {
		Status string `json:"status"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// RPCProber sends a JSON-RPC call without params to the endpoint and expects
// a 2xx response without an error member. When the result carries a status
// field it must read "healthy".
type RPCProber struct {
	client *http.Client
	method string
}

func NewRPCProber(client *http.Client, method string) *RPCProber {
	if client == nil {
		client = &http.Client{}
	}
	return &RPCProber{client: client, method: method}
}

func (p *RPCProber) Probe(ctx context.Context, ep endpoint.Endpoint) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  p.method,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.HTTPURL(), bytes.NewReader(body))
	if err != nil {
		return &ProbeError{Kind: ErrorKindConnection, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &ProbeError{Kind: ErrorKindStatus, Err: fmt.Errorf("unexpected status %d", res.StatusCode)}
	}

	var payload rpcResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, maxProbeBody)).Decode(&payload); err != nil {
		return &ProbeError{Kind: ErrorKindRPC, Err: fmt.Errorf("decode response: %w", err)}
	}

	if payload.Error != nil {
		return &ProbeError{Kind: ErrorKindRPC, Err: fmt.Errorf("rpc error %d: %s", payload.Error.Code, payload.Error.Message)}
	}

	if payload.Result != nil && payload.Result.Status != "" && !strings.EqualFold(payload.Result.Status, "healthy") {
		return &ProbeError{Kind: ErrorKindRPC, Err: fmt.Errorf("node reports status %q", payload.Result.Status)}
	}

	return nil
}
