// Package metrics declares the Prometheus collectors of the service and an
// http.RoundTripper that records every upstream catalog call.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "music_search"

var (
	// UpstreamRequests counts upstream calls by platform and status code.
	// Transport failures are recorded with code "error".
	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_requests_total",
		Help:      "Upstream catalog requests by platform and status code.",
	}, []string{"platform", "code"})

	// UpstreamDuration observes upstream call latency by platform.
	UpstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "upstream_request_duration_seconds",
		Help:      "Upstream catalog request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"platform"})

	// Searches counts aggregated searches by outcome
	// (ok, partial, auth_error, provider_error).
	Searches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "searches_total",
		Help:      "Aggregated album searches by outcome.",
	}, []string{"outcome"})

	// PlatformFailures counts failed platform branches.
	PlatformFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "platform_failures_total",
		Help:      "Failed platform searches.",
	}, []string{"platform"})

	// CredentialFetches counts credential acquisitions that reached the
	// issuing source, i.e. cache misses.
	CredentialFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "credential_fetches_total",
		Help:      "Credential acquisitions by platform and result.",
	}, []string{"platform", "result"})
)

type transport struct {
	platform string
	next     http.RoundTripper
}

// Transport wraps next so that every request is counted and timed under the
// given platform label. A nil next uses http.DefaultTransport.
func Transport(platform string, next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &transport{platform: platform, next: next}
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	UpstreamDuration.WithLabelValues(t.platform).Observe(time.Since(start).Seconds())
	if err != nil {
		UpstreamRequests.WithLabelValues(t.platform, "error").Inc()
		return nil, err
	}
	UpstreamRequests.WithLabelValues(t.platform, strconv.Itoa(resp.StatusCode)).Inc()
	return resp, nil
}

// InstrumentClient returns a shallow copy of c whose transport is wrapped by
// Transport. A nil client yields a new client with a 10 second timeout.
func InstrumentClient(platform string, c *http.Client) *http.Client {
	if c == nil {
		c = &http.Client{Timeout: 10 * time.Second}
	}
	cp := *c
	cp.Transport = Transport(platform, c.Transport)
	return &cp
}
