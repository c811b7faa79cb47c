package remittance

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrDenialNotFound  = errors.New("denial case not found")
	ErrPaymentNotFound = errors.New("payment record not found")
)

// Repository persists denial cases and payment records.
type Repository interface {
	CreateDenial(ctx context.Context, dc *DenialCase) error
	GetDenial(ctx context.Context, id uuid.UUID) (*DenialCase, error)
	GetDenialByRemittance(ctx context.Context, remittanceRef string) (*DenialCase, error)
	UpdateDenial(ctx context.Context, dc *DenialCase) error
	ListDenials(ctx context.Context, category, status string, limit, offset int) ([]*DenialCase, int, error)

	CreatePayment(ctx context.Context, p *PaymentRecord) error
	GetPayment(ctx context.Context, id uuid.UUID) (*PaymentRecord, error)
	GetPaymentByRemittance(ctx context.Context, remittanceRef string) (*PaymentRecord, error)
	ListPayments(ctx context.Context, limit, offset int) ([]*PaymentRecord, int, error)
}
