package pointer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

var (
	// ErrNotFound means the named pointer does not exist in the control
	// plane. A missing pointer is a deployment error, never retried.
	ErrNotFound = errors.New("pointer: not found")
	// ErrUnavailable means the control plane could not be reached or
	// answered with a server error. Callers may retry.
	ErrUnavailable = errors.New("pointer: control plane unavailable")
)

// Resolver reads the version pointer. It is consulted exactly once per node
// lifetime, at boot.
type Resolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// HTTPResolver reads pointers from the control-plane HTTP API.
type HTTPResolver struct {
	endpoint string
	token    string
	client   *http.Client
}

func NewHTTPResolver(endpoint, token string) *HTTPResolver {
	return &HTTPResolver{
		endpoint: endpoint,
		token:    token,
		client: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    5,
				IdleConnTimeout: 90 * time.Second,
			},
		},
	}
}

type pointerResponse struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Resolve returns the current artifact key for the named pointer.
func (r *HTTPResolver) Resolve(ctx context.Context, name string) (string, error) {
	u := r.endpoint + "/v1/pointers/" + url.PathEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	case resp.StatusCode >= 400:
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var pr pointerResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if pr.Value == "" {
		return "", fmt.Errorf("%w: empty value for %s", ErrNotFound, name)
	}
	return pr.Value, nil
}
