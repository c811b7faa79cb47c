package codes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStaticLookup_KnownCode(t *testing.T) {
	l := NewStaticLookup()

	info, err := l.Validate(context.Background(), SystemICD10, "E11.9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !info.Valid {
		t.Fatal("expected E11.9 to be valid")
	}
	if info.Description == "" {
		t.Error("expected description")
	}

	info, err = l.Validate(context.Background(), SystemCPT, "99213")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !info.Valid {
		t.Fatal("expected 99213 to be valid")
	}
	if info.TypicalPrice != 125 {
		t.Errorf("expected typical price 125, got %v", info.TypicalPrice)
	}
}

func TestStaticLookup_UnknownCode(t *testing.T) {
	l := NewStaticLookup()

	info, err := l.Validate(context.Background(), SystemICD10, "ZZZ.999")
	if err != nil {
		t.Fatalf("unknown code must not be an error, got %v", err)
	}
	if info.Valid {
		t.Error("expected ZZZ.999 to be invalid")
	}
}

func TestStaticLookup_PreauthFlag(t *testing.T) {
	l := NewStaticLookup()

	info, err := l.Validate(context.Background(), SystemCPT, "70553")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !info.RequiresPreauth {
		t.Error("expected MRI code to require preauth")
	}

	info, _ = l.Validate(context.Background(), SystemCPT, "99213")
	if info.RequiresPreauth {
		t.Error("expected office visit to not require preauth")
	}
}

func TestStaticLookup_Add(t *testing.T) {
	l := NewStaticLookup()
	l.Add(SystemCPT, "97110", "Therapeutic exercises", 75, false)

	info, err := l.Validate(context.Background(), SystemCPT, "97110")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !info.Valid || info.TypicalPrice != 75 {
		t.Errorf("expected added code to validate with price 75, got %+v", info)
	}
}

func TestHTTPLookup_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/codes/cpt/99214" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"valid": true, "description": "Office visit", "typical_price": 185}`))
	}))
	defer srv.Close()

	l := NewHTTPLookup(srv.URL)
	info, err := l.Validate(context.Background(), "cpt", "99214")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !info.Valid {
		t.Error("expected valid")
	}
	if info.TypicalPrice != 185 {
		t.Errorf("expected price 185, got %v", info.TypicalPrice)
	}
}

func TestHTTPLookup_NotFoundIsInvalidNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	l := NewHTTPLookup(srv.URL)
	info, err := l.Validate(context.Background(), "cpt", "00000")
	if err != nil {
		t.Fatalf("404 must not be an error, got %v", err)
	}
	if info.Valid {
		t.Error("expected invalid")
	}
}

func TestHTTPLookup_ConnectivityError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	l := NewHTTPLookup(srv.URL)
	if _, err := l.Validate(context.Background(), "cpt", "99213"); err == nil {
		t.Fatal("expected connectivity error")
	}
}
