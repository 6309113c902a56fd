package layout

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPDataProvider fetches data-source content over HTTP. The endpoint
// must return a flat JSON object of string values.
type HTTPDataProvider struct {
	client  *http.Client
	timeout time.Duration
}

// NewHTTPDataProvider creates a provider with a per-fetch timeout. A
// zero timeout defaults to 10 seconds.
func NewHTTPDataProvider(timeout time.Duration) *HTTPDataProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPDataProvider{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// FetchData implements DataProvider.
func (p *HTTPDataProvider) FetchData(ctx context.Context, ref DataSourceRef) (map[string]string, error) {
	if ref.URL == "" {
		return nil, fmt.Errorf("layout: data source %q has no url", ref.Name)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("layout: data source %q: %w", ref.Name, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("layout: data source %q: %w", ref.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("layout: data source %q: unexpected status %d", ref.Name, resp.StatusCode)
	}

	var data map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("layout: data source %q: parse response: %w", ref.Name, err)
	}
	return data, nil
}
