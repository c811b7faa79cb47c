package remittance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemRepo is the in-memory Repository used in development mode and in tests.
type MemRepo struct {
	mu       sync.RWMutex
	denials  map[uuid.UUID]*DenialCase
	payments map[uuid.UUID]*PaymentRecord
}

func NewMemRepo() *MemRepo {
	return &MemRepo{
		denials:  make(map[uuid.UUID]*DenialCase),
		payments: make(map[uuid.UUID]*PaymentRecord),
	}
}

func copyDenial(dc *DenialCase) *DenialCase {
	cp := *dc
	if dc.AppealBody != nil {
		s := *dc.AppealBody
		cp.AppealBody = &s
	}
	if dc.OutcomeNote != nil {
		s := *dc.OutcomeNote
		cp.OutcomeNote = &s
	}
	return &cp
}

func (r *MemRepo) CreateDenial(_ context.Context, dc *DenialCase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dc.ID == uuid.Nil {
		dc.ID = uuid.New()
	}
	now := time.Now()
	dc.CreatedAt = now
	dc.UpdatedAt = now
	r.denials[dc.ID] = copyDenial(dc)
	return nil
}

func (r *MemRepo) GetDenial(_ context.Context, id uuid.UUID) (*DenialCase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dc, ok := r.denials[id]
	if !ok {
		return nil, ErrDenialNotFound
	}
	return copyDenial(dc), nil
}

func (r *MemRepo) GetDenialByRemittance(_ context.Context, ref string) (*DenialCase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, dc := range r.denials {
		if dc.RemittanceRef == ref {
			return copyDenial(dc), nil
		}
	}
	return nil, ErrDenialNotFound
}

func (r *MemRepo) UpdateDenial(_ context.Context, dc *DenialCase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.denials[dc.ID]; !ok {
		return ErrDenialNotFound
	}
	dc.UpdatedAt = time.Now()
	r.denials[dc.ID] = copyDenial(dc)
	return nil
}

func (r *MemRepo) ListDenials(_ context.Context, category, status string, limit, offset int) ([]*DenialCase, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*DenialCase, 0, len(r.denials))
	for _, dc := range r.denials {
		if category != "" && dc.Category != category {
			continue
		}
		if status != "" && dc.Status != status {
			continue
		}
		all = append(all, dc)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	out := make([]*DenialCase, 0, end-offset)
	for _, dc := range all[offset:end] {
		out = append(out, copyDenial(dc))
	}
	return out, total, nil
}

func (r *MemRepo) CreatePayment(_ context.Context, p *PaymentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.PostedAt.IsZero() {
		p.PostedAt = time.Now()
	}
	cp := *p
	r.payments[p.ID] = &cp
	return nil
}

func (r *MemRepo) GetPayment(_ context.Context, id uuid.UUID) (*PaymentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *MemRepo) GetPaymentByRemittance(_ context.Context, ref string) (*PaymentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.payments {
		if p.RemittanceRef == ref {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (r *MemRepo) ListPayments(_ context.Context, limit, offset int) ([]*PaymentRecord, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*PaymentRecord, 0, len(r.payments))
	for _, p := range r.payments {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].PostedAt.After(all[j].PostedAt) })

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	out := make([]*PaymentRecord, 0, end-offset)
	for _, p := range all[offset:end] {
		cp := *p
		out = append(out, &cp)
	}
	return out, total, nil
}
