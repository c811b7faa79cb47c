package gateway

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedClient wraps a Client with a process-wide token bucket. Every
// call waits for a token first, so the gateway sees at most rps requests
// per second from this process.
type RateLimitedClient struct {
	inner   Client
	limiter *rate.Limiter
}

// NewRateLimitedClient decorates inner with a token bucket of the given
// refill rate (requests per second) and burst size.
func NewRateLimitedClient(inner Client, rps float64, burst int) *RateLimitedClient {
	return &RateLimitedClient{inner: inner, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (c *RateLimitedClient) wait(ctx context.Context, op string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &TransportError{Op: op, Retryable: true, Err: err}
	}
	return nil
}

func (c *RateLimitedClient) CheckEligibility(ctx context.Context, req EligibilityRequest) (*EligibilityResponse, error) {
	if err := c.wait(ctx, "eligibility.check"); err != nil {
		return nil, err
	}
	return c.inner.CheckEligibility(ctx, req)
}

func (c *RateLimitedClient) SubmitPreauth(ctx context.Context, req PreauthRequest) (*PreauthResponse, error) {
	if err := c.wait(ctx, "preauth.submit"); err != nil {
		return nil, err
	}
	return c.inner.SubmitPreauth(ctx, req)
}

func (c *RateLimitedClient) SubmitClaim(ctx context.Context, sub ClaimSubmission) (*SubmissionReceipt, error) {
	if err := c.wait(ctx, "claim.submit"); err != nil {
		return nil, err
	}
	return c.inner.SubmitClaim(ctx, sub)
}

func (c *RateLimitedClient) CheckStatus(ctx context.Context, gatewayRef string) (*StatusResponse, error) {
	if err := c.wait(ctx, "claim.status"); err != nil {
		return nil, err
	}
	return c.inner.CheckStatus(ctx, gatewayRef)
}
