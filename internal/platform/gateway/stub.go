package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/rcm/rcm/internal/platform/fhir"
)

// StubClient is the gateway used in development mode when no GATEWAY_BASE_URL
// is configured. It approves everything and reports claims as paid at the
// configured allowed ratio after PendingPolls status checks.
type StubClient struct {
	RequiresPreauth bool
	AllowedRatio    float64 // allowed = submitted total * AllowedRatio
	PendingPolls    int     // status polls that report pending before paid

	mu     sync.Mutex
	claims map[string]*stubClaim
}

type stubClaim struct {
	total float64
	polls int
}

// NewStubClient returns a stub that pays 80% of charges after one pending poll.
func NewStubClient() *StubClient {
	return &StubClient{
		AllowedRatio: 0.8,
		PendingPolls: 1,
		claims:       make(map[string]*stubClaim),
	}
}

func (s *StubClient) CheckEligibility(_ context.Context, req EligibilityRequest) (*EligibilityResponse, error) {
	return &EligibilityResponse{
		Eligible:            true,
		Copay:               25,
		DeductibleRemaining: 500,
		RequiresPreauth:     s.RequiresPreauth,
	}, nil
}

func (s *StubClient) SubmitPreauth(_ context.Context, req PreauthRequest) (*PreauthResponse, error) {
	return &PreauthResponse{AuthorizationNumber: "AUTH-" + uuid.New().String()[:8]}, nil
}

// submittedTotal reads the claim total from the payload. The total arrives
// as a fhir.Money when submitted in process, or as a plain number or decoded
// JSON object when it crossed the wire.
func submittedTotal(payload map[string]interface{}) float64 {
	switch v := payload["total"].(type) {
	case fhir.Money:
		return v.Value
	case float64:
		return v
	case map[string]interface{}:
		value, _ := v["value"].(float64)
		return value
	}
	return 0
}

func (s *StubClient) SubmitClaim(_ context.Context, sub ClaimSubmission) (*SubmissionReceipt, error) {
	ref := "GW-" + uuid.New().String()[:8]
	total := submittedTotal(sub.Payload)

	s.mu.Lock()
	s.claims[ref] = &stubClaim{total: total}
	s.mu.Unlock()

	return &SubmissionReceipt{GatewayRef: ref}, nil
}

func (s *StubClient) CheckStatus(_ context.Context, gatewayRef string) (*StatusResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cl, ok := s.claims[gatewayRef]
	if !ok {
		return nil, &TransportError{Op: "claim.status", StatusCode: 404, Retryable: false,
			Reasons: []string{fmt.Sprintf("unknown gateway reference %s", gatewayRef)}}
	}
	if cl.polls < s.PendingPolls {
		cl.polls++
		return &StatusResponse{Outcome: OutcomePending, Detail: "adjudication in progress"}, nil
	}

	allowed := cl.total * s.AllowedRatio
	return &StatusResponse{
		Outcome:       OutcomePaid,
		PaidAmount:    allowed,
		AllowedAmount: allowed,
		RemittanceRef: "ERA-" + gatewayRef,
	}, nil
}
