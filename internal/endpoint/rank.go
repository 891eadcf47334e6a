package endpoint

import "sort"

// StatusFunc resolves the current health status of an endpoint URL.
type StatusFunc func(url string) Status

// Rank returns a new slice holding the endpoints in the order calls should try
// them: regular endpoints before fallback endpoints, then by status
// (healthy, unknown, unhealthy), then by ascending priority. Ties keep their
// configured order.
func Rank(endpoints []Endpoint, status StatusFunc) []Endpoint {
	type ranked struct {
		endpoint Endpoint
		status   Status
	}

	items := make([]ranked, len(endpoints))
	for i, e := range endpoints {
		items[i] = ranked{endpoint: e, status: status(e.url)}
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.endpoint.isFallback != b.endpoint.isFallback {
			return !a.endpoint.isFallback
		}
		if a.status.rank() != b.status.rank() {
			return a.status.rank() < b.status.rank()
		}
		return a.endpoint.priority < b.endpoint.priority
	})

	out := make([]Endpoint, len(items))
	for i, item := range items {
		out[i] = item.endpoint
	}
	return out
}

// Best returns the highest priority endpoint whose status is want.
func Best(endpoints []Endpoint, status StatusFunc, want Status) (Endpoint, bool) {
	var (
		best  Endpoint
		found bool
	)

	for _, e := range endpoints {
		if status(e.url) != want {
			continue
		}
		if !found || e.priority < best.priority {
			best = e
			found = true
		}
	}

	return best, found
}
