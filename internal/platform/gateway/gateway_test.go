package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rcm/rcm/internal/platform/fhir"
)

func TestHTTPClient_CheckEligibility(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/coverageeligibility/check" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("X-Correlation-ID") == "" {
			t.Error("expected X-Correlation-ID header")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"eligible": false, "reason": "policy lapsed"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "secret")
	resp, err := c.CheckEligibility(context.Background(), EligibilityRequest{
		PatientRef:  "Patient/p1",
		CoverageRef: "Coverage/c1",
		ServiceDate: time.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Eligible {
		t.Error("expected eligible=false")
	}
	if resp.Reason != "policy lapsed" {
		t.Errorf("expected reason 'policy lapsed', got %q", resp.Reason)
	}
}

func TestHTTPClient_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	_, err := c.SubmitClaim(context.Background(), ClaimSubmission{ClaimRef: "cl1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsRetryable(err) {
		t.Errorf("expected 502 to be retryable, got %v", err)
	}
}

func TestHTTPClient_RejectionIsTerminalWithReasons(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"errors": ["missing diagnosis pointer", "invalid payer id"]}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	_, err := c.SubmitClaim(context.Background(), ClaimSubmission{ClaimRef: "cl1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsRetryable(err) {
		t.Error("expected 422 to be terminal")
	}

	reasons := RejectionReasons(err)
	if len(reasons) != 2 {
		t.Fatalf("expected 2 rejection reasons, got %v", reasons)
	}
	if reasons[0] != "missing diagnosis pointer" {
		t.Errorf("expected verbatim gateway reason, got %q", reasons[0])
	}
}

func TestHTTPClient_NetworkErrorIsRetryable(t *testing.T) {
	// Closed server simulates a connection failure.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewHTTPClient(srv.URL, "")
	_, err := c.CheckStatus(context.Background(), "GW-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsRetryable(err) {
		t.Errorf("expected network error to be retryable, got %v", err)
	}
}

type countingClient struct {
	StubClient
	calls int64
}

func (c *countingClient) CheckStatus(ctx context.Context, ref string) (*StatusResponse, error) {
	atomic.AddInt64(&c.calls, 1)
	return &StatusResponse{Outcome: OutcomePending}, nil
}

func TestRateLimitedClient_ConsumesBurstThenWaits(t *testing.T) {
	inner := &countingClient{}
	c := NewRateLimitedClient(inner, 1000, 2)

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := c.CheckStatus(ctx, "GW-1"); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i+1, err)
		}
	}
	if atomic.LoadInt64(&inner.calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", inner.calls)
	}
	// Third call had to wait for a refill at 1000 tokens/sec.
	if elapsed := time.Since(start); elapsed < 500*time.Microsecond {
		t.Logf("elapsed %s", elapsed)
	}
}

func TestRateLimitedClient_CancelledContext(t *testing.T) {
	inner := &countingClient{}
	// Zero burst forces an immediate wait.
	c := NewRateLimitedClient(inner, 0.001, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.CheckStatus(ctx, "GW-1")
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if !IsRetryable(err) {
		t.Errorf("expected cancellation to surface as retryable transport error, got %v", err)
	}
	if atomic.LoadInt64(&inner.calls) != 0 {
		t.Errorf("expected no calls through, got %d", inner.calls)
	}
}

func TestStubClient_PaysAfterPendingPolls(t *testing.T) {
	s := NewStubClient()

	receipt, err := s.SubmitClaim(context.Background(), ClaimSubmission{
		ClaimRef: "cl1",
		Payload:  map[string]interface{}{"total": 1000.0},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	st, err := s.CheckStatus(context.Background(), receipt.GatewayRef)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Outcome != OutcomePending {
		t.Fatalf("expected pending on first poll, got %s", st.Outcome)
	}

	st, err = s.CheckStatus(context.Background(), receipt.GatewayRef)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Outcome != OutcomePaid {
		t.Fatalf("expected paid on second poll, got %s", st.Outcome)
	}
	if st.AllowedAmount != 800 {
		t.Errorf("expected allowed 800, got %v", st.AllowedAmount)
	}
	if st.RemittanceRef == "" {
		t.Error("expected remittance reference")
	}
}

func TestStubClient_ReadsFHIRMoneyTotal(t *testing.T) {
	s := NewStubClient()
	s.PendingPolls = 0

	receipt, err := s.SubmitClaim(context.Background(), ClaimSubmission{
		ClaimRef: "cl1",
		Payload:  map[string]interface{}{"total": fhir.Money{Value: 250, Currency: "USD"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	st, err := s.CheckStatus(context.Background(), receipt.GatewayRef)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Outcome != OutcomePaid {
		t.Fatalf("expected paid, got %s", st.Outcome)
	}
	if st.PaidAmount != 200 {
		t.Errorf("expected 80%% of the money value, got %v", st.PaidAmount)
	}
}

func TestStubClient_ReadsDecodedTotalObject(t *testing.T) {
	s := NewStubClient()
	s.PendingPolls = 0

	receipt, err := s.SubmitClaim(context.Background(), ClaimSubmission{
		ClaimRef: "cl2",
		Payload:  map[string]interface{}{"total": map[string]interface{}{"value": 500.0, "currency": "USD"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	st, err := s.CheckStatus(context.Background(), receipt.GatewayRef)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.PaidAmount != 400 {
		t.Errorf("expected 80%% of the decoded value, got %v", st.PaidAmount)
	}
}

func TestStubClient_UnknownReference(t *testing.T) {
	s := NewStubClient()
	_, err := s.CheckStatus(context.Background(), "GW-missing")
	if err == nil {
		t.Fatal("expected error for unknown reference")
	}
	if IsRetryable(err) {
		t.Error("expected unknown reference to be terminal")
	}
}
