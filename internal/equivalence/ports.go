package equivalence

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ReferenceRateLookup returns the official reference interest rate in force
// on a given date, as an annual fraction.
type ReferenceRateLookup interface {
	ReferenceRate(ctx context.Context, on time.Time) (decimal.Decimal, error)
}

// CreditRatingPremiumLookup returns the market (safe-harbour) guarantee
// premium rate for a counterparty rating on a given date.
type CreditRatingPremiumLookup interface {
	PremiumRate(ctx context.Context, rating string, on time.Time) (decimal.Decimal, error)
}

// MinimisCeilingLookup returns the de-minimis ceiling for a fiscal year and
// activity sector. An empty sector selects the general ceiling.
type MinimisCeilingLookup interface {
	Ceiling(ctx context.Context, fiscalYear int, sector string) (decimal.Decimal, error)
}

// CumulativeAidLookup returns the gross-grant-equivalent sum of all prior
// minimis-qualifying aid granted to a beneficiary within the rolling window
// ending at asOf.
type CumulativeAidLookup interface {
	CumulativeAid(ctx context.Context, beneficiaryID string, asOf time.Time) (decimal.Decimal, error)
}
