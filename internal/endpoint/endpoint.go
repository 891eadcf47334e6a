package endpoint

import "strings"

// Endpoint is a remote RPC address the service can route calls to. Values are
// immutable; a configuration change replaces the whole list.
type Endpoint struct {
	url        string
	priority   int
	isFallback bool
}

// New creates an Endpoint. Lower priority numbers are preferred.
func New(url string, priority int, fallback bool) Endpoint {
	return Endpoint{
		url:        url,
		priority:   priority,
		isFallback: fallback,
	}
}

// URL returns the endpoint address. It is the endpoint's identity within a
// configuration generation.
func (e Endpoint) URL() string {
	return e.url
}

// Priority returns the configured priority, lower is better.
func (e Endpoint) Priority() int {
	return e.priority
}

// IsFallback reports whether the endpoint is only used once every regular
// endpoint has been tried.
func (e Endpoint) IsFallback() bool {
	return e.isFallback
}

// HTTPURL returns the address to use for HTTP requests: ws and wss
// endpoints are reached over http and https on the same host.
func (e Endpoint) HTTPURL() string {
	switch {
	case strings.HasPrefix(e.url, "ws://"):
		return "http://" + strings.TrimPrefix(e.url, "ws://")
	case strings.HasPrefix(e.url, "wss://"):
		return "https://" + strings.TrimPrefix(e.url, "wss://")
	default:
		return e.url
	}
}

func (e Endpoint) String() string {
	return e.url
}

// URLs returns the addresses of the given endpoints in order.
func URLs(endpoints []Endpoint) []string {
	urls := make([]string, 0, len(endpoints))
	for _, e := range endpoints {
		urls = append(urls, e.url)
	}
	return urls
}
