// Package forge defines the contract every forge adapter satisfies, plus the
// small pieces of HTTP plumbing the adapters share.
package forge

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/miabbott/git-year-end-report/internal/domain"
)

// RequestTimeout is the per-request timeout applied by every adapter's HTTP
// client. A timed-out sub-request fails on its own without taking sibling
// requests down with it.
const RequestTimeout = 30 * time.Second

// PerPage is the page size requested from every paginated listing endpoint.
const PerPage = 100

// StatsResult carries the outcome of one (forge, repository) fetch.
// Suppressed records per-item or per-metric errors that were recovered as
// zero counts, so callers can tell "zero activity" apart from "zero because
// something was skipped". A job-level failure is reported through the error
// return of FetchRepoStats instead, with no StatsResult at all.
type StatsResult struct {
	Stats      *domain.RepoStats
	Suppressed []error
}

// Partial reports whether any per-item error was recovered during the fetch.
func (r *StatsResult) Partial() bool {
	return len(r.Suppressed) > 0
}

// Forge is the capability set every adapter implements. The orchestrator is
// written purely against this interface and never switches on forge identity.
type Forge interface {
	// Name returns the stable human-readable forge identifier.
	Name() string

	// FetchRepoStats counts the eight activity metrics for each username in
	// [start, end]. Malformed or missing records are skipped, not fatal; a
	// non-nil error means the whole repository fetch failed.
	FetchRepoStats(ctx context.Context, repo string, usernames []string, start, end time.Time) (*StatsResult, error)

	// DiscoverRepositories enumerates, best effort, the repositories where
	// the given users show activity in range. Usernames whose queries fail
	// are skipped; recall is bounded by the forge's own search primitives.
	DiscoverRepositories(ctx context.Context, usernames []string, start, end time.Time) (map[string]struct{}, error)

	// Requests returns the number of outbound API requests issued since the
	// last reset. Diagnostics only.
	Requests() int64

	// ResetRequests zeroes the request counter.
	ResetRequests()
}

// DedupeUsernames drops repeated usernames, keeping first-occurrence order.
// Counting the same user twice would double every one of their metrics.
func DedupeUsernames(usernames []string) []string {
	seen := make(map[string]struct{}, len(usernames))
	out := make([]string, 0, len(usernames))
	for _, u := range usernames {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// RequestCounter is a monotonically increasing, goroutine-safe counter of
// outbound API requests. Adapters embed one and thread it through their HTTP
// transport.
type RequestCounter struct {
	n atomic.Int64
}

// Count returns the current value.
func (c *RequestCounter) Count() int64 { return c.n.Load() }

// Reset zeroes the counter.
func (c *RequestCounter) Reset() { c.n.Store(0) }

// CountingTransport increments a RequestCounter for every request it sends.
// It wraps whatever transport the adapter already composed, so auth and rate
// limiting layers sit below it and are counted too.
type CountingTransport struct {
	Base    http.RoundTripper
	Counter *RequestCounter
}

// RoundTrip implements http.RoundTripper.
func (t *CountingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.Counter.n.Add(1)
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// NewHTTPClient returns an http.Client with the standard per-request timeout
// and a counting transport over base (nil base means the default transport).
func NewHTTPClient(base http.RoundTripper, counter *RequestCounter) *http.Client {
	return &http.Client{
		Timeout: RequestTimeout,
		Transport: &CountingTransport{
			Base:    base,
			Counter: counter,
		},
	}
}
