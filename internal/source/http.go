package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/paulmach/orb/geojson"
)

// maxBodySize caps a single layer response.
const maxBodySize = 64 << 20

// HTTPSource fetches GeoJSON feature collections over HTTP GET.
type HTTPSource struct {
	client  *http.Client
	timeout time.Duration
}

// NewHTTPSource creates an HTTP source with a per-request timeout.
func NewHTTPSource(timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		client:  &http.Client{},
		timeout: timeout,
	}
}

// WithClient replaces the underlying HTTP client.
func (s *HTTPSource) WithClient(c *http.Client) *HTTPSource {
	s.client = c
	return s
}

// Fetch implements Source.
func (s *HTTPSource) Fetch(ctx context.Context, rawURL string) (*geojson.FeatureCollection, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &HTTPError{URL: rawURL, Status: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, classify(err)
	}
	return Decode(data)
}

// Decode parses a GeoJSON FeatureCollection, or a single Feature wrapped into
// a collection.
func Decode(data []byte) (*geojson.FeatureCollection, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err == nil {
		return fc, nil
	}
	if f, ferr := geojson.UnmarshalFeature(data); ferr == nil && f.Geometry != nil {
		fc = geojson.NewFeatureCollection()
		fc.Append(f)
		return fc, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrFetchParse, err)
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrFetchTimeout, err)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return fmt.Errorf("%w: %v", ErrFetchTimeout, err)
	}
	return err
}
