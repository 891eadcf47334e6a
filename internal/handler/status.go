package handler

import (
	"encoding/json"
	"net/http"

	"github.com/angeloszaimis/rpc-failover/internal/circuitbreaker"
	"github.com/angeloszaimis/rpc-failover/internal/endpoint"
	"github.com/angeloszaimis/rpc-failover/internal/healthcheck"
)

type HealthReporter interface {
	Snapshot() []healthcheck.Record
	GetBestEndpoint(candidates []endpoint.Endpoint) (endpoint.Endpoint, bool)
}

type BreakerReporter interface {
	Snapshot(url string) circuitbreaker.Snapshot
}

type CandidateLister interface {
	Endpoints() []endpoint.Endpoint
	Candidates() []endpoint.Endpoint
}

type EndpointStatus struct {
	Health  healthcheck.Record      `json:"health"`
	Breaker circuitbreaker.Snapshot `json:"breaker"`
}

type StatusResponse struct {
	Preferred  string           `json:"preferred,omitempty"`
	Candidates []string         `json:"candidates"`
	Endpoints  []EndpointStatus `json:"endpoints"`
}

// StatusHandler serves a read-only view of health and breaker state.
type StatusHandler struct {
	health   HealthReporter
	breakers BreakerReporter
	lister   CandidateLister
}

func NewStatusHandler(health HealthReporter, breakers BreakerReporter, lister CandidateLister) *StatusHandler {
	return &StatusHandler{health: health, breakers: breakers, lister: lister}
}

func (h *StatusHandler) Status() StatusResponse {
	resp := StatusResponse{
		Candidates: endpoint.URLs(h.lister.Candidates()),
		Endpoints:  []EndpointStatus{},
	}

	var regular, fallback []endpoint.Endpoint
	for _, ep := range h.lister.Endpoints() {
		if ep.IsFallback() {
			fallback = append(fallback, ep)
		} else {
			regular = append(regular, ep)
		}
	}
	if best, ok := h.health.GetBestEndpoint(regular); ok {
		resp.Preferred = best.URL()
	} else if best, ok := h.health.GetBestEndpoint(fallback); ok {
		resp.Preferred = best.URL()
	}

	for _, rec := range h.health.Snapshot() {
		resp.Endpoints = append(resp.Endpoints, EndpointStatus{
			Health:  rec,
			Breaker: h.breakers.Snapshot(rec.Endpoint),
		})
	}

	return resp
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.Status()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
