// Package codes provides diagnosis and procedure code validation with
// typical pricing, backed by static tables or a remote terminology service.
package codes

import (
	"context"
)

// Code systems understood by the lookup.
const (
	SystemICD10 = "icd-10"
	SystemCPT   = "cpt"
)

// CodeInfo is the result of validating a single code. Valid=false with a nil
// error means the code is definitively unknown; connectivity problems with a
// remote lookup surface as an error instead.
type CodeInfo struct {
	Valid           bool    `json:"valid"`
	Code            string  `json:"code"`
	System          string  `json:"system"`
	Description     string  `json:"description,omitempty"`
	TypicalPrice    float64 `json:"typical_price,omitempty"`
	RequiresPreauth bool    `json:"requires_preauth"`
}

// Lookup validates codes against a terminology source.
type Lookup interface {
	Validate(ctx context.Context, system, code string) (*CodeInfo, error)
}
