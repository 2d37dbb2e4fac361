package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrNotFound means the key does not exist in the store. A pointer
	// naming a missing artifact is a publisher error, never retried.
	ErrNotFound = errors.New("artifact: not found")
	// ErrUnavailable means the store could not be reached or answered
	// with a server error. Callers may retry.
	ErrUnavailable = errors.New("artifact: store unavailable")
)

// Store fetches immutable artifact bundles by key. A given key always
// resolves to the same bytes.
type Store interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// HTTPStore fetches artifacts from a key-addressed object store endpoint.
type HTTPStore struct {
	endpoint string
	token    string
	client   *http.Client
}

func NewHTTPStore(endpoint, token string) *HTTPStore {
	return &HTTPStore{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		client: &http.Client{
			Timeout: 5 * time.Minute,
			Transport: &http.Transport{
				MaxIdleConns:    5,
				IdleConnTimeout: 90 * time.Second,
			},
		},
	}
}

func (s *HTTPStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	u := s.endpoint + "/" + strings.TrimLeft(key, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	return data, nil
}
