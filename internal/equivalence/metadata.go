package equivalence

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FromMetadata builds a typed instrument from the open metadata mapping the
// registry feed carries per award. Required keys depend on the kind:
//
//	loan:      term_months, annual_rate
//	guarantee: coverage, term_months, rating; annual_premium optional (0)
//
// Missing or malformed keys fail with ErrInvalidRequest here, before any
// calculation runs.
func FromMetadata(kind InstrumentKind, meta map[string]interface{}) (Instrument, error) {
	switch kind {
	case KindDirectGrant:
		return DirectGrant{}, nil
	case KindLoan:
		term, err := metaInt(meta, "term_months")
		if err != nil {
			return nil, err
		}
		rate, err := metaDecimal(meta, "annual_rate")
		if err != nil {
			return nil, err
		}
		return Loan{TermMonths: term, AnnualRate: rate}, nil
	case KindGuarantee:
		coverage, err := metaDecimal(meta, "coverage")
		if err != nil {
			return nil, err
		}
		term, err := metaInt(meta, "term_months")
		if err != nil {
			return nil, err
		}
		rating, ok := meta["rating"].(string)
		if !ok || rating == "" {
			return nil, fmt.Errorf("%w: guarantee metadata missing rating", ErrInvalidRequest)
		}
		premium := decimal.Zero
		if _, present := meta["annual_premium"]; present {
			premium, err = metaDecimal(meta, "annual_premium")
			if err != nil {
				return nil, err
			}
		}
		return Guarantee{Coverage: coverage, TermMonths: term, Rating: rating, AnnualPremium: premium}, nil
	case KindTaxBenefit:
		return TaxBenefit{}, nil
	case KindEquity:
		return EquityInjection{}, nil
	case KindOther:
		desc, _ := meta["description"].(string)
		return Other{Description: desc}, nil
	default:
		return nil, fmt.Errorf("%w: unknown instrument kind %q", ErrInvalidRequest, kind)
	}
}

func metaInt(meta map[string]interface{}, key string) (int, error) {
	v, ok := meta[key]
	if !ok {
		return 0, fmt.Errorf("%w: instrument metadata missing %s", ErrInvalidRequest, key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return 0, fmt.Errorf("%w: metadata %s=%q is not numeric", ErrInvalidRequest, key, n)
		}
		return int(d.IntPart()), nil
	default:
		return 0, fmt.Errorf("%w: metadata %s has unsupported type %T", ErrInvalidRequest, key, v)
	}
}

func metaDecimal(meta map[string]interface{}, key string) (decimal.Decimal, error) {
	v, ok := meta[key]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: instrument metadata missing %s", ErrInvalidRequest, key)
	}
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: metadata %s=%q is not numeric", ErrInvalidRequest, key, n)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: metadata %s has unsupported type %T", ErrInvalidRequest, key, v)
	}
}
