package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

const maxResponseBody = 1 << 20 // 1 MB

// correlationKey carries the correlation ID attached to outbound calls.
type correlationKey struct{}

// WithCorrelationID returns a context carrying the given correlation ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationIDFromContext returns the correlation ID from ctx, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}

// HTTPClient talks JSON over HTTP to an HCX-style claims-exchange gateway.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a gateway client for the given base URL and bearer token.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) CheckEligibility(ctx context.Context, req EligibilityRequest) (*EligibilityResponse, error) {
	var resp EligibilityResponse
	if err := c.post(ctx, "eligibility.check", "/v1/coverageeligibility/check", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) SubmitPreauth(ctx context.Context, req PreauthRequest) (*PreauthResponse, error) {
	var resp PreauthResponse
	if err := c.post(ctx, "preauth.submit", "/v1/preauth/submit", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) SubmitClaim(ctx context.Context, sub ClaimSubmission) (*SubmissionReceipt, error) {
	var resp SubmissionReceipt
	if err := c.post(ctx, "claim.submit", "/v1/claim/submit", sub, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) CheckStatus(ctx context.Context, gatewayRef string) (*StatusResponse, error) {
	var resp StatusResponse
	path := "/v1/claim/status/" + url.PathEscape(gatewayRef)
	if err := c.get(ctx, "claim.status", path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) post(ctx context.Context, op, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(op, req, out)
}

func (c *HTTPClient) get(ctx context.Context, op, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	return c.do(op, req, out)
}

func (c *HTTPClient) do(op string, req *http.Request, out interface{}) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	cid := CorrelationIDFromContext(req.Context())
	if cid == "" {
		cid = uuid.New().String()
	}
	req.Header.Set("X-Correlation-ID", cid)

	resp, err := c.client.Do(req)
	if err != nil {
		// Network fault or timeout
		return &TransportError{Op: op, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Retryable: true, Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := json.Unmarshal(body, out); err != nil {
			return &TransportError{Op: op, StatusCode: resp.StatusCode, Retryable: false,
				Reasons: []string{"malformed gateway response"}, Err: err}
		}
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Retryable: true,
			Reasons: rejectionReasons(body)}
	default:
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Retryable: false,
			Reasons: rejectionReasons(body)}
	}
}

// rejectionReasons pulls the gateway's error messages out of a rejection
// body. The gateway reports either {"errors": ["..."]} or {"error": "..."};
// anything else is kept as the raw body so nothing is lost.
func rejectionReasons(body []byte) []string {
	var structured struct {
		Errors []string `json:"errors"`
		Error  string   `json:"error"`
	}
	if err := json.Unmarshal(body, &structured); err == nil {
		if len(structured.Errors) > 0 {
			return structured.Errors
		}
		if structured.Error != "" {
			return []string{structured.Error}
		}
	}
	if len(body) == 0 {
		return nil
	}
	return []string{string(body)}
}
