package equivalence

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	one    = decimal.NewFromInt(1)
	twelve = decimal.NewFromInt(12)
)

// Request asks for the gross grant equivalent of a nominal aid amount.
type Request struct {
	Nominal    decimal.Decimal
	GrantDate  time.Time
	Instrument Instrument
}

// Result is the computed gross grant equivalent. ReferenceRate is the rate
// used for discounting; it is zero for direct grants.
type Result struct {
	Equivalent    decimal.Decimal `json:"equivalent"`
	Kind          InstrumentKind  `json:"instrument"`
	ReferenceRate decimal.Decimal `json:"reference_rate"`
}

// CeilingRequest asks whether a proposed minimis aid fits under the ceiling.
// Cumulative must be the equivalent-amount sum of prior minimis aid within
// the rolling window; the engine never substitutes a default for it.
type CeilingRequest struct {
	BeneficiaryID string
	Cumulative    decimal.Decimal
	Proposed      decimal.Decimal
	FiscalYear    int
	Sector        string
}

// CeilingCheck is the outcome of a minimis ceiling check.
type CeilingCheck struct {
	BeneficiaryID string          `json:"beneficiary_id"`
	FiscalYear    int             `json:"fiscal_year"`
	Sector        string          `json:"sector,omitempty"`
	Cumulative    decimal.Decimal `json:"cumulative"`
	Proposed      decimal.Decimal `json:"proposed"`
	Ceiling       decimal.Decimal `json:"ceiling"`
	Passed        bool            `json:"passed"`
	Headroom      decimal.Decimal `json:"headroom"`
	Overage       decimal.Decimal `json:"overage"`
}

// Engine converts nominal aid amounts into their gross grant equivalent and
// checks minimis ceilings. It holds no mutable state: for identical inputs
// and identical lookup responses every call returns the same result, so it is
// safe for concurrent use.
type Engine struct {
	rates    ReferenceRateLookup
	premiums CreditRatingPremiumLookup
	ceilings MinimisCeilingLookup
	registry CumulativeAidLookup
}

func New(rates ReferenceRateLookup, premiums CreditRatingPremiumLookup, ceilings MinimisCeilingLookup, registry CumulativeAidLookup) *Engine {
	return &Engine{rates: rates, premiums: premiums, ceilings: ceilings, registry: registry}
}

// ComputeEquivalent computes the gross grant equivalent of the request. All
// regulatory parameters are selected by the grant date, never by the clock,
// so historical recalculation is reproducible.
func (e *Engine) ComputeEquivalent(ctx context.Context, req Request) (Result, error) {
	if req.Nominal.IsNegative() {
		return Result{}, fmt.Errorf("%w: nominal amount %s is negative", ErrInvalidRequest, req.Nominal)
	}
	if req.GrantDate.IsZero() {
		return Result{}, fmt.Errorf("%w: grant date is not set", ErrInvalidRequest)
	}
	if req.Instrument == nil {
		return Result{}, fmt.Errorf("%w: instrument is not set", ErrInvalidRequest)
	}

	switch inst := req.Instrument.(type) {
	case DirectGrant:
		return Result{Equivalent: req.Nominal, Kind: KindDirectGrant}, nil
	case Loan:
		return e.loanEquivalent(ctx, req, inst)
	case Guarantee:
		return e.guaranteeEquivalent(ctx, req, inst)
	case TaxBenefit, EquityInjection, Other:
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedInstrument, req.Instrument.Kind())
	default:
		return Result{}, fmt.Errorf("%w: unknown instrument type %T", ErrInvalidRequest, req.Instrument)
	}
}

// loanEquivalent values the below-market interest benefit as the present
// value of the monthly rate differential against the official reference rate,
// discounted monthly at that reference rate.
func (e *Engine) loanEquivalent(ctx context.Context, req Request, loan Loan) (Result, error) {
	if loan.TermMonths <= 0 {
		return Result{}, fmt.Errorf("%w: loan term must be positive, got %d months", ErrInvalidRequest, loan.TermMonths)
	}
	if loan.AnnualRate.IsNegative() {
		return Result{}, fmt.Errorf("%w: loan rate %s is negative", ErrInvalidRequest, loan.AnnualRate)
	}

	refRate, err := e.rates.ReferenceRate(ctx, req.GrantDate)
	if err != nil {
		return Result{}, fmt.Errorf("%w: reference rate for %s: %v", ErrDataUnavailable, req.GrantDate.Format("2006-01-02"), err)
	}

	res := Result{Kind: KindLoan, ReferenceRate: refRate, Equivalent: decimal.Zero}

	monthlyRef := refRate.Div(twelve)
	monthlyDiff := monthlyRef.Sub(loan.AnnualRate.Div(twelve))
	if !monthlyDiff.IsPositive() {
		// Charged at or above the reference rate: no benefit.
		return res, nil
	}

	saving := req.Nominal.Mul(monthlyDiff)
	base := one.Add(monthlyRef)
	factor := one
	pv := decimal.Zero
	for m := 0; m < loan.TermMonths; m++ {
		factor = factor.Mul(base)
		pv = pv.Add(saving.Div(factor))
	}

	res.Equivalent = pv.Round(2)
	return res, nil
}

// guaranteeEquivalent values the premium shortfall: the safe-harbour premium
// for the beneficiary's rating minus the premium actually charged, applied to
// the covered exposure per year of cover and discounted annually at the
// reference rate. The result is capped at the covered exposure.
func (e *Engine) guaranteeEquivalent(ctx context.Context, req Request, g Guarantee) (Result, error) {
	if !g.Coverage.IsPositive() || g.Coverage.GreaterThan(one) {
		return Result{}, fmt.Errorf("%w: guarantee coverage %s outside (0, 1]", ErrInvalidRequest, g.Coverage)
	}
	if g.TermMonths <= 0 {
		return Result{}, fmt.Errorf("%w: guarantee term must be positive, got %d months", ErrInvalidRequest, g.TermMonths)
	}
	if g.Rating == "" {
		return Result{}, fmt.Errorf("%w: guarantee requires a counterparty rating", ErrInvalidRequest)
	}
	if g.AnnualPremium.IsNegative() {
		return Result{}, fmt.Errorf("%w: guarantee premium %s is negative", ErrInvalidRequest, g.AnnualPremium)
	}

	market, err := e.premiums.PremiumRate(ctx, g.Rating, req.GrantDate)
	if err != nil {
		return Result{}, fmt.Errorf("%w: safe-harbour premium for rating %s: %v", ErrDataUnavailable, g.Rating, err)
	}
	refRate, err := e.rates.ReferenceRate(ctx, req.GrantDate)
	if err != nil {
		return Result{}, fmt.Errorf("%w: reference rate for %s: %v", ErrDataUnavailable, req.GrantDate.Format("2006-01-02"), err)
	}

	res := Result{Kind: KindGuarantee, ReferenceRate: refRate, Equivalent: decimal.Zero}

	exposure := req.Nominal.Mul(g.Coverage)
	shortfall := exposure.Mul(market.Sub(g.AnnualPremium))
	if !shortfall.IsPositive() {
		return res, nil
	}

	base := one.Add(refRate)
	factor := one
	pv := decimal.Zero
	fullYears := g.TermMonths / 12
	for y := 0; y < fullYears; y++ {
		factor = factor.Mul(base)
		pv = pv.Add(shortfall.Div(factor))
	}
	if rem := g.TermMonths % 12; rem > 0 {
		factor = factor.Mul(base)
		fraction := decimal.NewFromInt(int64(rem)).Div(twelve)
		pv = pv.Add(shortfall.Mul(fraction).Div(factor))
	}
	if pv.GreaterThan(exposure) {
		pv = exposure
	}

	res.Equivalent = pv.Round(2)
	return res, nil
}

// CheckMinimisCeiling compares cumulative plus proposed aid against the
// ceiling in force for the fiscal year. On failure the check reports the
// exact overage.
func (e *Engine) CheckMinimisCeiling(ctx context.Context, req CeilingRequest) (CeilingCheck, error) {
	if req.BeneficiaryID == "" {
		return CeilingCheck{}, fmt.Errorf("%w: beneficiary id is required", ErrInvalidRequest)
	}
	if req.Cumulative.IsNegative() {
		return CeilingCheck{}, fmt.Errorf("%w: cumulative aid %s is negative", ErrInvalidRequest, req.Cumulative)
	}
	if req.Proposed.IsNegative() {
		return CeilingCheck{}, fmt.Errorf("%w: proposed aid %s is negative", ErrInvalidRequest, req.Proposed)
	}
	if req.FiscalYear <= 0 {
		return CeilingCheck{}, fmt.Errorf("%w: fiscal year %d", ErrInvalidRequest, req.FiscalYear)
	}

	ceiling, err := e.ceilings.Ceiling(ctx, req.FiscalYear, req.Sector)
	if err != nil {
		return CeilingCheck{}, fmt.Errorf("%w: minimis ceiling for year %d sector %q: %v", ErrDataUnavailable, req.FiscalYear, req.Sector, err)
	}

	total := req.Cumulative.Add(req.Proposed)
	check := CeilingCheck{
		BeneficiaryID: req.BeneficiaryID,
		FiscalYear:    req.FiscalYear,
		Sector:        req.Sector,
		Cumulative:    req.Cumulative,
		Proposed:      req.Proposed,
		Ceiling:       ceiling,
		Headroom:      decimal.Zero,
		Overage:       decimal.Zero,
	}
	if total.LessThanOrEqual(ceiling) {
		check.Passed = true
		check.Headroom = ceiling.Sub(total)
	} else {
		check.Overage = total.Sub(ceiling)
	}
	return check, nil
}

// CheckBeneficiary resolves the beneficiary's cumulative minimis aid through
// the registry and runs the ceiling check for the grant date's fiscal year.
// A failed cumulative lookup is a hard error: defaulting to zero would
// silently permit ceiling violations.
func (e *Engine) CheckBeneficiary(ctx context.Context, beneficiaryID string, proposed decimal.Decimal, grantDate time.Time, sector string) (CeilingCheck, error) {
	if grantDate.IsZero() {
		return CeilingCheck{}, fmt.Errorf("%w: grant date is not set", ErrInvalidRequest)
	}
	cumulative, err := e.registry.CumulativeAid(ctx, beneficiaryID, grantDate)
	if err != nil {
		return CeilingCheck{}, fmt.Errorf("%w: cumulative aid for beneficiary %s: %v", ErrDataUnavailable, beneficiaryID, err)
	}
	return e.CheckMinimisCeiling(ctx, CeilingRequest{
		BeneficiaryID: beneficiaryID,
		Cumulative:    cumulative,
		Proposed:      proposed,
		FiscalYear:    grantDate.Year(),
		Sector:        sector,
	})
}
