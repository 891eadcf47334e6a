//go:build ignore

// mocknode is a fake JSON-RPC node for exercising the proxy by hand.
// It answers getHealth and echoes every other method back with its port.
//
// Usage:
//
//	go run scripts/mocknode.go -port 8899
//
// The node's behaviour can be switched while it runs:
//
//	curl -X POST 'localhost:8899/admin/mode?mode=down'
//
// Modes: up (default), down (HTTP 500), unhealthy (getHealth reports
// "behind"), slow (answers after -delay).
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
}

func main() {
	port := flag.Int("port", 8899, "port to listen on")
	delay := flag.Duration("delay", 10*time.Second, "response delay in slow mode")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil)).With(slog.Int("port", *port))
	nodeID := uuid.NewString()

	var mode atomic.Value
	mode.Store("up")

	mux := http.NewServeMux()
	mux.HandleFunc("POST /admin/mode", func(w http.ResponseWriter, r *http.Request) {
		m := r.URL.Query().Get("mode")
		switch m {
		case "up", "down", "unhealthy", "slow":
			mode.Store(m)
			log.Info("mode changed", slog.String("mode", m))
			fmt.Fprintln(w, m)
		default:
			http.Error(w, "unknown mode", http.StatusBadRequest)
		}
	})
	mux.HandleFunc("POST /", func(w http.ResponseWriter, r *http.Request) {
		current := mode.Load().(string)

		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON-RPC request", http.StatusBadRequest)
			return
		}

		log.Info("request",
			slog.String("method", req.Method),
			slog.String("mode", current),
			slog.String("request_id", r.Header.Get("X-Request-Id")))

		switch current {
		case "down":
			http.Error(w, "node down", http.StatusInternalServerError)
			return
		case "slow":
			select {
			case <-time.After(*delay):
			case <-r.Context().Done():
				return
			}
		}

		res := rpcResponse{JSONRPC: "2.0", ID: req.ID}
		if req.Method == "getHealth" {
			status := "healthy"
			if current == "unhealthy" {
				status = "behind"
			}
			res.Result = map[string]string{"status": status}
		} else {
			res.Result = map[string]any{"node": nodeID, "port": *port, "method": req.Method}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(res)
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Info("mock node listening", slog.String("addr", addr), slog.String("node", nodeID))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("server stopped", slog.Any("err", err))
		os.Exit(1)
	}
}
