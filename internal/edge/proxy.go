// Package edge fronts the checkout service for browser and mobile clients.
package edge

import (
	"context"
	"net/http"
)

// identityHeaders are the only request headers forwarded upstream besides
// Content-Type. The upstream trusts them, so the edge is the place where a
// real deployment terminates sessions and stamps them on.
var identityHeaders = []string{"X-User-ID", "X-User-Role"}

type ServiceProxy struct {
	baseURL string
	client  *http.Client
}

func NewServiceProxy(baseURL string, client *http.Client) *ServiceProxy {
	return &ServiceProxy{
		baseURL: baseURL,
		client:  client,
	}
}

func (p *ServiceProxy) ForwardRequest(ctx context.Context, r *http.Request, path string) (*http.Response, error) {
	url := p.baseURL + path
	if r.URL.RawQuery != "" {
		url += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, url, r.Body)
	if err != nil {
		return nil, err
	}

	if contentType := r.Header.Get("Content-Type"); contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for _, header := range identityHeaders {
		if v := r.Header.Get(header); v != "" {
			req.Header.Set(header, v)
		}
	}

	return p.client.Do(req)
}
