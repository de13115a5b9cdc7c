// Package source fetches layer features from remote or local feature sources.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/paulmach/orb/geojson"
)

// Failure taxonomy. Callers classify with errors.Is.
var (
	ErrFetchTimeout = errors.New("fetch timed out")
	ErrFetchHTTP    = errors.New("fetch http error")
	ErrFetchParse   = errors.New("fetch parse error")
)

// HTTPError is returned for non-2xx responses. It matches ErrFetchHTTP.
type HTTPError struct {
	URL    string
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Status)
}

func (e *HTTPError) Is(target error) bool {
	return target == ErrFetchHTTP
}

// Source returns the feature collection behind a request URL.
type Source interface {
	Fetch(ctx context.Context, rawURL string) (*geojson.FeatureCollection, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, rawURL string) (*geojson.FeatureCollection, error)

func (f SourceFunc) Fetch(ctx context.Context, rawURL string) (*geojson.FeatureCollection, error) {
	return f(ctx, rawURL)
}

// Mux dispatches requests to a Source by URL scheme.
type Mux struct {
	schemes  map[string]Source
	fallback Source
}

// NewMux creates a mux that sends unregistered schemes to fallback.
func NewMux(fallback Source) *Mux {
	return &Mux{schemes: make(map[string]Source), fallback: fallback}
}

// Handle registers src for a URL scheme.
func (m *Mux) Handle(scheme string, src Source) {
	m.schemes[strings.ToLower(scheme)] = src
}

// Fetch implements Source.
func (m *Mux) Fetch(ctx context.Context, rawURL string) (*geojson.FeatureCollection, error) {
	scheme := ""
	if u, err := url.Parse(rawURL); err == nil {
		scheme = strings.ToLower(u.Scheme)
	}
	if src, ok := m.schemes[scheme]; ok {
		return src.Fetch(ctx, rawURL)
	}
	if m.fallback == nil {
		return nil, fmt.Errorf("no source for scheme %q", scheme)
	}
	return m.fallback.Fetch(ctx, rawURL)
}
