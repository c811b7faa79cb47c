package codes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPLookup queries a remote terminology service. Connectivity failures are
// returned as errors so callers can classify them as retryable; an unknown
// code is a successful lookup with Valid=false.
type HTTPLookup struct {
	baseURL string
	client  *http.Client
}

func NewHTTPLookup(baseURL string) *HTTPLookup {
	return &HTTPLookup{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (l *HTTPLookup) Validate(ctx context.Context, system, code string) (*CodeInfo, error) {
	u := fmt.Sprintf("%s/codes/%s/%s", l.baseURL, url.PathEscape(system), url.PathEscape(code))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build lookup request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("code lookup %s/%s: %w", system, code, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &CodeInfo{Code: code, System: system}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("code lookup %s/%s: status %d", system, code, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read lookup response: %w", err)
	}

	var info CodeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode lookup response: %w", err)
	}
	info.Code = code
	info.System = system
	return &info, nil
}
