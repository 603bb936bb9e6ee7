package equivalence

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestFromMetadata_LoanRequiresTermAndRate(t *testing.T) {
	inst, err := FromMetadata(KindLoan, map[string]interface{}{
		"term_months": 60,
		"annual_rate": "0.005",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	loan, ok := inst.(Loan)
	if !ok {
		t.Fatalf("expected Loan, got %T", inst)
	}
	if loan.TermMonths != 60 {
		t.Fatalf("expected term 60, got %d", loan.TermMonths)
	}
	if !loan.AnnualRate.Equal(decimal.RequireFromString("0.005")) {
		t.Fatalf("expected rate 0.005, got %s", loan.AnnualRate)
	}

	if _, err := FromMetadata(KindLoan, map[string]interface{}{"annual_rate": "0.005"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest without term_months, got %v", err)
	}
	if _, err := FromMetadata(KindLoan, map[string]interface{}{"term_months": 60}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest without annual_rate, got %v", err)
	}
}

func TestFromMetadata_GuaranteeRequiresRating(t *testing.T) {
	_, err := FromMetadata(KindGuarantee, map[string]interface{}{
		"coverage":    "0.8",
		"term_months": 48,
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest without rating, got %v", err)
	}

	inst, err := FromMetadata(KindGuarantee, map[string]interface{}{
		"coverage":    "0.8",
		"term_months": 48,
		"rating":      "BBB",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g := inst.(Guarantee)
	if !g.AnnualPremium.IsZero() {
		t.Fatalf("expected zero premium when absent, got %s", g.AnnualPremium)
	}
}

func TestFromMetadata_NumericCoercion(t *testing.T) {
	// The registry feed delivers JSON numbers as float64.
	inst, err := FromMetadata(KindLoan, map[string]interface{}{
		"term_months": float64(36),
		"annual_rate": float64(0.01),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inst.(Loan).TermMonths != 36 {
		t.Fatalf("expected term 36, got %d", inst.(Loan).TermMonths)
	}
}

func TestFromMetadata_DirectGrantIgnoresMetadata(t *testing.T) {
	inst, err := FromMetadata(KindDirectGrant, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := inst.(DirectGrant); !ok {
		t.Fatalf("expected DirectGrant, got %T", inst)
	}
}
