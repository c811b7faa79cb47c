// Package gateway provides the client for the external claims-exchange
// platform (eligibility, pre-authorization, claim submission, status).
// The caller owns retries; the client only classifies failures.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Outcome values returned by CheckStatus.
const (
	OutcomePending = "pending"
	OutcomeDenied  = "denied"
	OutcomePaid    = "paid"
)

// EligibilityRequest identifies the patient and coverage being verified.
type EligibilityRequest struct {
	PatientRef  string    `json:"patient_ref"`
	CoverageRef string    `json:"coverage_ref"`
	ServiceDate time.Time `json:"service_date"`
}

// EligibilityResponse is the gateway's coverage determination. A definitive
// "not covered" answer arrives here as Eligible=false, not as an error.
type EligibilityResponse struct {
	Eligible            bool    `json:"eligible"`
	Copay               float64 `json:"copay"`
	DeductibleRemaining float64 `json:"deductible_remaining"`
	RequiresPreauth     bool    `json:"requires_preauth"`
	Reason              string  `json:"reason,omitempty"`
}

// PreauthRequest carries the medical justification and coded services.
type PreauthRequest struct {
	PatientRef    string   `json:"patient_ref"`
	CoverageRef   string   `json:"coverage_ref"`
	Justification string   `json:"justification"`
	Codes         []string `json:"codes"`
}

// PreauthResponse holds the payer's authorization number.
type PreauthResponse struct {
	AuthorizationNumber string `json:"authorization_number"`
}

// ClaimSubmission wraps the rendered claim payload sent to the gateway.
type ClaimSubmission struct {
	ClaimRef string                 `json:"claim_ref"`
	Payload  map[string]interface{} `json:"payload"`
}

// SubmissionReceipt is returned on accepted submissions; GatewayRef is the
// handle for subsequent status polls.
type SubmissionReceipt struct {
	GatewayRef string `json:"gateway_reference"`
}

// StatusResponse is the result of a status poll.
type StatusResponse struct {
	Outcome       string  `json:"outcome"`
	DenialCode    string  `json:"denial_code,omitempty"`
	DenialReason  string  `json:"denial_reason,omitempty"`
	PaidAmount    float64 `json:"paid_amount,omitempty"`
	AllowedAmount float64 `json:"allowed_amount,omitempty"`
	RemittanceRef string  `json:"remittance_ref,omitempty"`
	Detail        string  `json:"detail,omitempty"`
}

// Client is the outbound interface to the claims-exchange platform. All calls
// carry the correlation ID from ctx when present. Transient failures surface
// as *TransportError with Retryable=true; the client never retries itself.
type Client interface {
	CheckEligibility(ctx context.Context, req EligibilityRequest) (*EligibilityResponse, error)
	SubmitPreauth(ctx context.Context, req PreauthRequest) (*PreauthResponse, error)
	SubmitClaim(ctx context.Context, sub ClaimSubmission) (*SubmissionReceipt, error)
	CheckStatus(ctx context.Context, gatewayRef string) (*StatusResponse, error)
}

// TransportError classifies a failed gateway call. Retryable errors are
// network faults, timeouts and 5xx responses. Non-retryable errors are 4xx
// rejections; Reasons carries the gateway's validation messages verbatim.
type TransportError struct {
	Op         string
	StatusCode int
	Retryable  bool
	Reasons    []string
	Err        error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("gateway %s", e.Op)
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if len(e.Reasons) > 0 {
		msg += ": " + strings.Join(e.Reasons, "; ")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a gateway error worth retrying.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return false
}

// RejectionReasons extracts the gateway's validation messages from a
// non-retryable rejection, or nil for other errors.
func RejectionReasons(err error) []string {
	var te *TransportError
	if errors.As(err, &te) && !te.Retryable {
		return te.Reasons
	}
	return nil
}
