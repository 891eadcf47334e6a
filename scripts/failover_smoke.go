//go:build ignore

// failover_smoke drives a running proxy in front of two mock nodes and
// checks that calls move to the secondary node when the primary goes down
// and come back once it recovers.
//
// Usage:
//
//	go run scripts/mocknode.go -port 8899 &
//	go run scripts/mocknode.go -port 8900 &
//	go run ./cmd serve --config config/config.yaml &
//	go run scripts/failover_smoke.go -proxy http://localhost:8545 \
//	    -primary http://localhost:8899 -secondary http://localhost:8900
package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
)

var (
	title = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	phase = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#06B6D4"))
	pass  = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true)
	fail  = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
)

func main() {
	var (
		proxyURL  = flag.String("proxy", "http://localhost:8545", "proxy URL")
		primary   = flag.String("primary", "http://localhost:8899", "primary mock node")
		secondary = flag.String("secondary", "http://localhost:8900", "secondary mock node")
		requests  = flag.Int("requests", 10, "calls per phase")
	)
	flag.Parse()

	client := &http.Client{Timeout: 30 * time.Second}
	failed := false

	fmt.Println(title.Render("rpc-failover smoke test"))

	fmt.Println(phase.Render("phase 1: primary serves"))
	failed = !expect(client, *proxyURL, *primary, *requests) || failed

	fmt.Println(phase.Render("phase 2: primary down, calls fall back"))
	must(setMode(client, *primary, "down"))
	failed = !expect(client, *proxyURL, *secondary, *requests) || failed

	fmt.Println(phase.Render("phase 3: primary recovers"))
	must(setMode(client, *primary, "up"))
	fmt.Println("  waiting for the next health cycle and breaker reset...")
	deadline := time.Now().Add(2 * time.Minute)
	for time.Now().Before(deadline) {
		if ep, _, err := call(client, *proxyURL); err == nil && ep == *primary {
			break
		}
		time.Sleep(2 * time.Second)
	}
	failed = !expect(client, *proxyURL, *primary, *requests) || failed

	if failed {
		fmt.Println(fail.Render("FAILED"))
		os.Exit(1)
	}
	fmt.Println(pass.Render("PASSED"))
}

func expect(client *http.Client, proxyURL, want string, n int) bool {
	hits := 0
	for i := 0; i < n; i++ {
		ep, status, err := call(client, proxyURL)
		switch {
		case err != nil:
			fmt.Printf("  call %d: %v\n", i+1, err)
		case status != http.StatusOK:
			fmt.Printf("  call %d: status %d\n", i+1, status)
		case ep == want:
			hits++
		default:
			fmt.Printf("  call %d: served by %s\n", i+1, ep)
		}
	}

	ok := hits == n
	verdict := pass.Render("ok")
	if !ok {
		verdict = fail.Render("mismatch")
	}
	fmt.Printf("  %d/%d served by %s %s\n", hits, n, want, verdict)
	return ok
}

func call(client *http.Client, proxyURL string) (string, int, error) {
	body := fmt.Sprintf(`{"jsonrpc":"2.0","id":%q,"method":"getSlot"}`, uuid.NewString())
	req, err := http.NewRequest(http.MethodPost, proxyURL, strings.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.Header.Get("X-Rpc-Endpoint"), resp.StatusCode, nil
}

func setMode(client *http.Client, node, mode string) error {
	resp, err := client.Post(node+"/admin/mode?mode="+mode, "text/plain", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("set mode %s on %s: status %d", mode, node, resp.StatusCode)
	}
	return nil
}

func must(err error) {
	if err != nil {
		fmt.Println(fail.Render(err.Error()))
		os.Exit(1)
	}
}
