package healthcheck_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/rpc-failover/internal/endpoint"
	"github.com/angeloszaimis/rpc-failover/internal/healthcheck"
)

var _ = Describe("RPCProber", func() {
	var (
		prober  *healthcheck.RPCProber
		server  *httptest.Server
		handler http.HandlerFunc
		ctx     context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		prober = healthcheck.NewRPCProber(&http.Client{}, "getHealth")
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler(w, r)
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	probe := func() error {
		return prober.Probe(ctx, endpoint.New(server.URL, 1, false))
	}

	It("should send a JSON-RPC request with the configured method", func() {
		var received map[string]any
		handler = func(w http.ResponseWriter, r *http.Request) {
			Expect(r.Method).To(Equal(http.MethodPost))
			Expect(r.Header.Get("Content-Type")).To(Equal("application/json"))
			Expect(json.NewDecoder(r.Body).Decode(&received)).To(Succeed())
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":"ok"}`))
		}

		Expect(probe()).To(Succeed())
		Expect(received).To(HaveKeyWithValue("jsonrpc", "2.0"))
		Expect(received).To(HaveKeyWithValue("method", "getHealth"))
		Expect(received).To(HaveKey("id"))
	})

	It("should accept a healthy status result", func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":{"status":"healthy"}}`))
		}

		Expect(probe()).To(Succeed())
	})

	DescribeTable("should classify failures",
		func(status int, body string, kind healthcheck.ErrorKind) {
			handler = func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
				_, _ = w.Write([]byte(body))
			}

			err := probe()
			Expect(err).To(HaveOccurred())
			Expect(healthcheck.Classify(err)).To(Equal(kind))
		},
		Entry("server error", http.StatusInternalServerError, ``, healthcheck.ErrorKindStatus),
		Entry("rate limited", http.StatusTooManyRequests, ``, healthcheck.ErrorKindStatus),
		Entry("rpc error member", http.StatusOK, `{"jsonrpc":"2.0","id":"1","error":{"code":-32005,"message":"node is behind"}}`, healthcheck.ErrorKindRPC),
		Entry("unhealthy status", http.StatusOK, `{"jsonrpc":"2.0","id":"1","result":{"status":"behind"}}`, healthcheck.ErrorKindRPC),
		Entry("malformed body", http.StatusOK, `not json`, healthcheck.ErrorKindRPC),
	)

	It("should classify a refused connection", func() {
		url := server.URL
		server.Close()

		err := prober.Probe(ctx, endpoint.New(url, 1, false))
		Expect(err).To(HaveOccurred())
		Expect(healthcheck.Classify(err)).To(Equal(healthcheck.ErrorKindConnection))
	})

	It("should classify a deadline as a timeout", func() {
		release := make(chan struct{})
		defer close(release)
		handler = func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}

		timeoutCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		err := prober.Probe(timeoutCtx, endpoint.New(server.URL, 1, false))
		Expect(err).To(HaveOccurred())
		Expect(healthcheck.Classify(err)).To(Equal(healthcheck.ErrorKindTimeout))
	})
})

var _ = Describe("Classify", func() {
	It("should treat unknown errors as connection failures", func() {
		Expect(healthcheck.Classify(errors.New("boom"))).To(Equal(healthcheck.ErrorKindConnection))
	})

	It("should unwrap probe errors", func() {
		err := &healthcheck.ProbeError{Kind: healthcheck.ErrorKindStatus, Err: errors.New("503")}
		Expect(healthcheck.Classify(err)).To(Equal(healthcheck.ErrorKindStatus))
		Expect(err.Error()).To(Equal("status: 503"))
	})
})
