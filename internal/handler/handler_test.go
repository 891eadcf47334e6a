package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/rpc-failover/internal/circuitbreaker"
	"github.com/angeloszaimis/rpc-failover/internal/endpoint"
	"github.com/angeloszaimis/rpc-failover/internal/failover"
	"github.com/angeloszaimis/rpc-failover/internal/handler"
	"github.com/angeloszaimis/rpc-failover/internal/healthcheck"
	"github.com/angeloszaimis/rpc-failover/internal/retry"
)

type callRecord struct {
	endpoint string
	success  bool
}

type callRecorder struct {
	mutex sync.Mutex
	calls []callRecord
}

func (r *callRecorder) RecordCall(ep string, _ time.Duration, success bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.calls = append(r.calls, callRecord{ep, success})
}

func newUpstream(status int, body string, hits *int, mutex *sync.Mutex) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mutex.Lock()
		*hits++
		mutex.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
}

var _ = Describe("RPCHandler", func() {
	var (
		log          *slog.Logger
		monitor      *healthcheck.Monitor
		registry     *circuitbreaker.Registry
		orchestrator *failover.Orchestrator
		recorder     *callRecorder
		h            *handler.RPCHandler
		primary      *httptest.Server
		secondary    *httptest.Server
		hits         map[string]*int
		mutex        sync.Mutex
	)

	setup := func(primaryStatus int, primaryBody string) {
		hits = map[string]*int{"primary": new(int), "secondary": new(int)}
		primary = newUpstream(primaryStatus, primaryBody, hits["primary"], &mutex)
		secondary = newUpstream(http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":"secondary"}`, hits["secondary"], &mutex)

		endpoints := []endpoint.Endpoint{
			endpoint.New(primary.URL, 1, false),
			endpoint.New(secondary.URL, 2, false),
		}

		monitor = healthcheck.NewMonitor(healthcheck.ProberFunc(func(context.Context, endpoint.Endpoint) error {
			return nil
		}), healthcheck.Settings{Interval: time.Minute, Timeout: time.Second, FailureThreshold: 3, MaxHistory: 10}, log)
		monitor.SetEndpoints(endpoints)

		registry = circuitbreaker.NewRegistry(circuitbreaker.Settings{ConsecutiveFailures: 5, ResetTimeout: time.Minute}, log)
		executor := retry.NewExecutor(registry, retry.Settings{
			Enabled:      true,
			MaxAttempts:  2,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
		}, log)
		orchestrator = failover.NewOrchestrator(endpoints, monitor, executor, log)
		recorder = &callRecorder{}
		h = handler.NewRPCHandler(log, orchestrator, nil, recorder)
	}

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	})

	AfterEach(func() {
		primary.Close()
		secondary.Close()
		monitor.Close()
	})

	It("should forward the call to the preferred endpoint", func() {
		setup(http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":"primary"}`)

		w := post(`{"jsonrpc":"2.0","id":1,"method":"getSlot"}`)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(ContainSubstring(`"primary"`))
		Expect(w.Header().Get(handler.HeaderEndpoint)).To(Equal(primary.URL))
		Expect(w.Header().Get(handler.HeaderRequestID)).NotTo(BeEmpty())
		Expect(*hits["secondary"]).To(BeZero())
	})

	It("should keep a request id supplied by the client", func() {
		setup(http.StatusOK, `{}`)

		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
		req.Header.Set(handler.HeaderRequestID, "req-42")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		Expect(w.Header().Get(handler.HeaderRequestID)).To(Equal("req-42"))
	})

	It("should retry and then fall back when the endpoint answers 5xx", func() {
		setup(http.StatusBadGateway, `upstream down`)

		w := post(`{"jsonrpc":"2.0","id":1,"method":"getSlot"}`)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(ContainSubstring(`"secondary"`))
		Expect(*hits["primary"]).To(Equal(2))
		Expect(*hits["secondary"]).To(Equal(1))
		Expect(recorder.calls).To(Equal([]callRecord{
			{primary.URL, false},
			{primary.URL, false},
			{secondary.URL, true},
		}))
	})

	It("should return client errors without falling back", func() {
		setup(http.StatusBadRequest, `{"error":"bad request"}`)

		w := post(`not json`)

		Expect(w.Code).To(Equal(http.StatusBadRequest))
		Expect(*hits["primary"]).To(Equal(1))
		Expect(*hits["secondary"]).To(BeZero())
	})

	It("should list every failure when all endpoints are exhausted", func() {
		setup(http.StatusInternalServerError, ``)
		secondary.Close()

		w := post(`{}`)

		Expect(w.Code).To(Equal(http.StatusBadGateway))

		var body struct {
			Error    string `json:"error"`
			Failures []struct {
				Endpoint string `json:"endpoint"`
			} `json:"failures"`
		}
		Expect(json.Unmarshal(w.Body.Bytes(), &body)).To(Succeed())
		Expect(body.Error).To(Equal(failover.ErrAllEndpointsExhausted.Error()))
		Expect(body.Failures).To(HaveLen(2))
		Expect(body.Failures[0].Endpoint).To(Equal(primary.URL))
		Expect(body.Failures[1].Endpoint).To(Equal(secondary.URL))
	})

	It("should answer 503 when no endpoints are configured", func() {
		setup(http.StatusOK, `{}`)
		orchestrator.UpdateEndpoints(nil)

		Expect(post(`{}`).Code).To(Equal(http.StatusServiceUnavailable))
	})

	It("should reject methods other than POST", func() {
		setup(http.StatusOK, `{}`)

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		Expect(w.Code).To(Equal(http.StatusMethodNotAllowed))
	})
})
