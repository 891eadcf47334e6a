package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/angeloszaimis/rpc-failover/internal/endpoint"
	"github.com/angeloszaimis/rpc-failover/internal/healthcheck"
	"github.com/angeloszaimis/rpc-failover/pkg/logger"
)

var errNoHealthyEndpoint = errors.New("no healthy endpoint")

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED")).MarginBottom(1)
	healthyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true)
	unhealthyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

func runCheck(ctx context.Context, opts *options, out io.Writer) error {
	_, resolved, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if ctx == nil {
		ctx = context.Background()
	}

	log := logger.NewWithWriter(io.Discard, resolved.LogLevel, false, resolved.Environment)
	monitor := healthcheck.NewMonitor(healthcheck.NewRPCProber(&http.Client{}, resolved.ProbeMethod), resolved.HealthCheck, log)
	defer monitor.Close()

	monitor.SetEndpoints(resolved.Endpoints)
	if err := monitor.CheckNow(ctx); err != nil {
		return fmt.Errorf("check endpoints: %w", err)
	}

	return renderCheck(out, monitor.Snapshot())
}

// renderCheck prints one row per endpoint and fails when none is healthy.
func renderCheck(out io.Writer, records []healthcheck.Record) error {
	rows := make([][]string, 0, len(records))
	healthy := 0

	for _, rec := range records {
		status := unhealthyStyle.Render(rec.Status.String())
		if rec.Status == endpoint.StatusHealthy {
			status = healthyStyle.Render(rec.Status.String())
			healthy++
		}

		latency, kind := "-", "-"
		if n := len(rec.History); n > 0 {
			last := rec.History[n-1]
			latency = strconv.FormatInt(last.LatencyMs, 10) + "ms"
			if last.ErrorKind != "" {
				kind = string(last.ErrorKind)
			}
		}

		fallback := ""
		if rec.Fallback {
			fallback = "yes"
		}

		rows = append(rows, []string{rec.Endpoint, strconv.Itoa(rec.Priority), fallback, status, latency, kind})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("ENDPOINT", "PRIORITY", "FALLBACK", "STATUS", "LATENCY", "ERROR").
		Rows(rows...)

	fmt.Fprintln(out, titleStyle.Render("rpc-failover check"))
	fmt.Fprintln(out, t.Render())
	fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("%d of %d endpoints healthy", healthy, len(records))))

	if healthy == 0 {
		return errNoHealthyEndpoint
	}
	return nil
}
