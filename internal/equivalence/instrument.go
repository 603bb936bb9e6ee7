package equivalence

import "github.com/shopspring/decimal"

// InstrumentKind identifies the state-aid instrument of an award.
type InstrumentKind string

const (
	KindDirectGrant InstrumentKind = "direct_grant"
	KindLoan        InstrumentKind = "loan"
	KindGuarantee   InstrumentKind = "guarantee"
	KindTaxBenefit  InstrumentKind = "tax_benefit"
	KindEquity      InstrumentKind = "equity_injection"
	KindOther       InstrumentKind = "other"
)

// Instrument has one variant per instrument kind, each carrying only the
// fields that kind requires, so a missing field is a type error instead of a
// runtime lookup failure.
type Instrument interface {
	Kind() InstrumentKind
}

// DirectGrant is a full cash transfer. Its equivalent is the nominal amount.
type DirectGrant struct{}

func (DirectGrant) Kind() InstrumentKind { return KindDirectGrant }

// Loan is a below-market loan. AnnualRate is the nominal annual interest rate
// actually charged to the beneficiary, as a fraction (0.005 means 0.5%).
type Loan struct {
	TermMonths int
	AnnualRate decimal.Decimal
}

func (Loan) Kind() InstrumentKind { return KindLoan }

// Guarantee covers part of a beneficiary's exposure. Coverage is the covered
// fraction in (0, 1]. AnnualPremium is the premium rate actually charged per
// year of cover; Rating selects the market safe-harbour premium.
type Guarantee struct {
	Coverage      decimal.Decimal
	TermMonths    int
	Rating        string
	AnnualPremium decimal.Decimal
}

func (Guarantee) Kind() InstrumentKind { return KindGuarantee }

// TaxBenefit has no defined formula yet; computing it fails with
// ErrUnsupportedInstrument.
type TaxBenefit struct{}

func (TaxBenefit) Kind() InstrumentKind { return KindTaxBenefit }

// EquityInjection has no defined formula yet (requires a private investor
// test); computing it fails with ErrUnsupportedInstrument.
type EquityInjection struct{}

func (EquityInjection) Kind() InstrumentKind { return KindEquity }

// Other is any instrument outside the known catalog.
type Other struct {
	Description string
}

func (Other) Kind() InstrumentKind { return KindOther }

// KindFromString maps a registry instrument code to its kind. Unknown codes
// map to KindOther.
func KindFromString(s string) InstrumentKind {
	switch InstrumentKind(s) {
	case KindDirectGrant, KindLoan, KindGuarantee, KindTaxBenefit, KindEquity:
		return InstrumentKind(s)
	default:
		return KindOther
	}
}
