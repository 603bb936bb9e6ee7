package equivalence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var errNotPublished = errors.New("not published")

type fixedTables struct {
	rate        decimal.Decimal
	rateMissing bool
	premiums    map[string]decimal.Decimal
	ceiling     decimal.Decimal
	cumulative  decimal.Decimal
	aidMissing  bool
}

func (f fixedTables) ReferenceRate(_ context.Context, _ time.Time) (decimal.Decimal, error) {
	if f.rateMissing {
		return decimal.Zero, errNotPublished
	}
	return f.rate, nil
}

func (f fixedTables) PremiumRate(_ context.Context, rating string, _ time.Time) (decimal.Decimal, error) {
	p, ok := f.premiums[rating]
	if !ok {
		return decimal.Zero, errNotPublished
	}
	return p, nil
}

func (f fixedTables) Ceiling(_ context.Context, _ int, _ string) (decimal.Decimal, error) {
	return f.ceiling, nil
}

func (f fixedTables) CumulativeAid(_ context.Context, _ string, _ time.Time) (decimal.Decimal, error) {
	if f.aidMissing {
		return decimal.Zero, errNotPublished
	}
	return f.cumulative, nil
}

func newTestEngine(tables fixedTables) *Engine {
	return New(tables, tables, tables, tables)
}

var grantDate = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestComputeEquivalent_DirectGrantReturnsNominal(t *testing.T) {
	eng := newTestEngine(fixedTables{rate: decimal.RequireFromString("0.04")})

	for _, nominal := range []string{"0", "150.75", "100000", "299999.99"} {
		res, err := eng.ComputeEquivalent(context.Background(), Request{
			Nominal:    decimal.RequireFromString(nominal),
			GrantDate:  grantDate,
			Instrument: DirectGrant{},
		})
		if err != nil {
			t.Fatalf("nominal %s: unexpected error: %v", nominal, err)
		}
		if !res.Equivalent.Equal(decimal.RequireFromString(nominal)) {
			t.Fatalf("nominal %s: expected equivalent unchanged, got %s", nominal, res.Equivalent)
		}
	}
}

func TestComputeEquivalent_LoanAtReferenceRateIsZero(t *testing.T) {
	eng := newTestEngine(fixedTables{rate: decimal.RequireFromString("0.04")})

	res, err := eng.ComputeEquivalent(context.Background(), Request{
		Nominal:   decimal.NewFromInt(100000),
		GrantDate: grantDate,
		Instrument: Loan{
			TermMonths: 60,
			AnnualRate: decimal.RequireFromString("0.04"),
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Equivalent.IsZero() {
		t.Fatalf("expected zero benefit at the reference rate, got %s", res.Equivalent)
	}
}

func TestComputeEquivalent_LoanBelowReferenceIsBetweenZeroAndNominal(t *testing.T) {
	eng := newTestEngine(fixedTables{rate: decimal.RequireFromString("0.04")})

	nominal := decimal.NewFromInt(100000)
	res, err := eng.ComputeEquivalent(context.Background(), Request{
		Nominal:   nominal,
		GrantDate: grantDate,
		Instrument: Loan{
			TermMonths: 60,
			AnnualRate: decimal.RequireFromString("0.005"),
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Equivalent.IsPositive() {
		t.Fatalf("expected strictly positive equivalent, got %s", res.Equivalent)
	}
	if res.Equivalent.GreaterThanOrEqual(nominal) {
		t.Fatalf("expected equivalent strictly below nominal, got %s", res.Equivalent)
	}
	if !res.ReferenceRate.Equal(decimal.RequireFromString("0.04")) {
		t.Fatalf("expected reference rate 0.04 in result, got %s", res.ReferenceRate)
	}
}

func TestComputeEquivalent_LoanIsDeterministic(t *testing.T) {
	eng := newTestEngine(fixedTables{rate: decimal.RequireFromString("0.04")})
	req := Request{
		Nominal:   decimal.NewFromInt(100000),
		GrantDate: grantDate,
		Instrument: Loan{
			TermMonths: 60,
			AnnualRate: decimal.RequireFromString("0.005"),
		},
	}

	first, err := eng.ComputeEquivalent(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := eng.ComputeEquivalent(context.Background(), req)
		if err != nil {
			t.Fatalf("run %d: unexpected error: %v", i, err)
		}
		if again.Equivalent.String() != first.Equivalent.String() {
			t.Fatalf("run %d: expected %s, got %s", i, first.Equivalent, again.Equivalent)
		}
	}
}

func TestComputeEquivalent_LoanAboveReferenceHasNoBenefit(t *testing.T) {
	eng := newTestEngine(fixedTables{rate: decimal.RequireFromString("0.04")})

	res, err := eng.ComputeEquivalent(context.Background(), Request{
		Nominal:   decimal.NewFromInt(50000),
		GrantDate: grantDate,
		Instrument: Loan{
			TermMonths: 36,
			AnnualRate: decimal.RequireFromString("0.07"),
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Equivalent.IsZero() {
		t.Fatalf("expected zero equivalent above the reference rate, got %s", res.Equivalent)
	}
}

func TestComputeEquivalent_LoanWithoutReferenceRateFails(t *testing.T) {
	eng := newTestEngine(fixedTables{rateMissing: true})

	_, err := eng.ComputeEquivalent(context.Background(), Request{
		Nominal:   decimal.NewFromInt(100000),
		GrantDate: grantDate,
		Instrument: Loan{
			TermMonths: 60,
			AnnualRate: decimal.RequireFromString("0.005"),
		},
	})
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
}

func TestComputeEquivalent_LoanWithoutTermIsInvalid(t *testing.T) {
	eng := newTestEngine(fixedTables{rate: decimal.RequireFromString("0.04")})

	_, err := eng.ComputeEquivalent(context.Background(), Request{
		Nominal:    decimal.NewFromInt(100000),
		GrantDate:  grantDate,
		Instrument: Loan{AnnualRate: decimal.RequireFromString("0.005")},
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestComputeEquivalent_NegativeNominalIsInvalid(t *testing.T) {
	eng := newTestEngine(fixedTables{rate: decimal.RequireFromString("0.04")})

	_, err := eng.ComputeEquivalent(context.Background(), Request{
		Nominal:    decimal.NewFromInt(-1),
		GrantDate:  grantDate,
		Instrument: DirectGrant{},
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestComputeEquivalent_UndefinedInstrumentsAreUnsupported(t *testing.T) {
	eng := newTestEngine(fixedTables{rate: decimal.RequireFromString("0.04")})

	for _, inst := range []Instrument{TaxBenefit{}, EquityInjection{}, Other{Description: "repayable advance"}} {
		_, err := eng.ComputeEquivalent(context.Background(), Request{
			Nominal:    decimal.NewFromInt(10000),
			GrantDate:  grantDate,
			Instrument: inst,
		})
		if !errors.Is(err, ErrUnsupportedInstrument) {
			t.Fatalf("%s: expected ErrUnsupportedInstrument, got %v", inst.Kind(), err)
		}
	}
}

func TestComputeEquivalent_GuaranteePremiumShortfall(t *testing.T) {
	eng := newTestEngine(fixedTables{
		rate:     decimal.RequireFromString("0.04"),
		premiums: map[string]decimal.Decimal{"BBB": decimal.RequireFromString("0.008")},
	})

	nominal := decimal.NewFromInt(200000)
	res, err := eng.ComputeEquivalent(context.Background(), Request{
		Nominal:   nominal,
		GrantDate: grantDate,
		Instrument: Guarantee{
			Coverage:      decimal.RequireFromString("0.8"),
			TermMonths:    48,
			Rating:        "BBB",
			AnnualPremium: decimal.RequireFromString("0.002"),
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Equivalent.IsPositive() {
		t.Fatalf("expected positive premium shortfall, got %s", res.Equivalent)
	}
	exposure := nominal.Mul(decimal.RequireFromString("0.8"))
	if res.Equivalent.GreaterThan(exposure) {
		t.Fatalf("expected equivalent capped at covered exposure %s, got %s", exposure, res.Equivalent)
	}
}

func TestComputeEquivalent_GuaranteeAtMarketPremiumIsZero(t *testing.T) {
	eng := newTestEngine(fixedTables{
		rate:     decimal.RequireFromString("0.04"),
		premiums: map[string]decimal.Decimal{"AA": decimal.RequireFromString("0.004")},
	})

	res, err := eng.ComputeEquivalent(context.Background(), Request{
		Nominal:   decimal.NewFromInt(200000),
		GrantDate: grantDate,
		Instrument: Guarantee{
			Coverage:      decimal.RequireFromString("0.8"),
			TermMonths:    48,
			Rating:        "AA",
			AnnualPremium: decimal.RequireFromString("0.004"),
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Equivalent.IsZero() {
		t.Fatalf("expected zero shortfall at the market premium, got %s", res.Equivalent)
	}
}

func TestComputeEquivalent_GuaranteeUnknownRatingFails(t *testing.T) {
	eng := newTestEngine(fixedTables{
		rate:     decimal.RequireFromString("0.04"),
		premiums: map[string]decimal.Decimal{"AA": decimal.RequireFromString("0.004")},
	})

	_, err := eng.ComputeEquivalent(context.Background(), Request{
		Nominal:   decimal.NewFromInt(200000),
		GrantDate: grantDate,
		Instrument: Guarantee{
			Coverage:      decimal.RequireFromString("0.8"),
			TermMonths:    48,
			Rating:        "CCC",
			AnnualPremium: decimal.RequireFromString("0.004"),
		},
	})
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
}

func TestCheckMinimisCeiling_ExactCeilingPassesWithZeroHeadroom(t *testing.T) {
	ceiling := decimal.NewFromInt(300000)
	eng := newTestEngine(fixedTables{ceiling: ceiling})

	check, err := eng.CheckMinimisCeiling(context.Background(), CeilingRequest{
		BeneficiaryID: "B-123",
		Cumulative:    decimal.Zero,
		Proposed:      ceiling,
		FiscalYear:    2024,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !check.Passed {
		t.Fatal("expected check at exactly the ceiling to pass")
	}
	if !check.Headroom.IsZero() {
		t.Fatalf("expected zero headroom, got %s", check.Headroom)
	}
}

func TestCheckMinimisCeiling_OverageIsExact(t *testing.T) {
	ceiling := decimal.NewFromInt(300000)
	eng := newTestEngine(fixedTables{ceiling: ceiling})

	check, err := eng.CheckMinimisCeiling(context.Background(), CeilingRequest{
		BeneficiaryID: "B-123",
		Cumulative:    ceiling,
		Proposed:      decimal.RequireFromString("0.01"),
		FiscalYear:    2024,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if check.Passed {
		t.Fatal("expected check over the ceiling to fail")
	}
	if !check.Overage.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("expected overage 0.01, got %s", check.Overage)
	}
}

func TestCheckMinimisCeiling_MonotonicInProposedAmount(t *testing.T) {
	eng := newTestEngine(fixedTables{ceiling: decimal.NewFromInt(300000)})
	cumulative := decimal.NewFromInt(250000)

	failedAt := decimal.Decimal{}
	failed := false
	for proposed := int64(0); proposed <= 100000; proposed += 5000 {
		check, err := eng.CheckMinimisCeiling(context.Background(), CeilingRequest{
			BeneficiaryID: "B-123",
			Cumulative:    cumulative,
			Proposed:      decimal.NewFromInt(proposed),
			FiscalYear:    2024,
		})
		if err != nil {
			t.Fatalf("proposed %d: unexpected error: %v", proposed, err)
		}
		if failed && check.Passed {
			t.Fatalf("proposed %d passed after %s already failed", proposed, failedAt)
		}
		if !check.Passed {
			failed = true
			failedAt = decimal.NewFromInt(proposed)
		}
	}
	if !failed {
		t.Fatal("expected some proposed amount to exceed the ceiling")
	}
}

func TestCheckMinimisCeiling_NegativeCumulativeIsInvalid(t *testing.T) {
	eng := newTestEngine(fixedTables{ceiling: decimal.NewFromInt(300000)})

	_, err := eng.CheckMinimisCeiling(context.Background(), CeilingRequest{
		BeneficiaryID: "B-123",
		Cumulative:    decimal.NewFromInt(-1),
		Proposed:      decimal.NewFromInt(100),
		FiscalYear:    2024,
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestCheckBeneficiary_MissingCumulativeFailsHard(t *testing.T) {
	eng := newTestEngine(fixedTables{ceiling: decimal.NewFromInt(300000), aidMissing: true})

	_, err := eng.CheckBeneficiary(context.Background(), "B-123", decimal.NewFromInt(1000), grantDate, "")
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable when the registry sum is missing, got %v", err)
	}
}

func TestCheckBeneficiary_UsesRegistryCumulative(t *testing.T) {
	eng := newTestEngine(fixedTables{
		ceiling:    decimal.NewFromInt(300000),
		cumulative: decimal.NewFromInt(299999),
	})

	check, err := eng.CheckBeneficiary(context.Background(), "B-123", decimal.NewFromInt(2), grantDate, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if check.Passed {
		t.Fatal("expected failure with registry cumulative of 299999 and proposed 2")
	}
	if !check.Overage.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected overage 1, got %s", check.Overage)
	}
}
