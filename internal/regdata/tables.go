// Package regdata loads the regulatory parameter tables (official reference
// rates, safe-harbour guarantee premiums, de-minimis ceilings) that the
// equivalence engine consumes through its lookup ports.
package regdata

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed config/regulatory.yaml
var regulatoryYAML embed.FS

// ErrNotFound is returned when no table entry is in force for the requested
// date, rating or year. The engine surfaces it as DataUnavailable.
var ErrNotFound = errors.New("no regulatory entry in force")

type rateEntry struct {
	From string `yaml:"from"`
	Rate string `yaml:"rate"`
}

type premiumEntry struct {
	Rating string `yaml:"rating"`
	Rate   string `yaml:"rate"`
}

type ceilingEntry struct {
	FromYear int               `yaml:"from_year"`
	ToYear   int               `yaml:"to_year"`
	General  string            `yaml:"general"`
	Sectors  map[string]string `yaml:"sectors,omitempty"`
}

type tablesFile struct {
	ReferenceRates    []rateEntry    `yaml:"reference_rates"`
	GuaranteePremiums []premiumEntry `yaml:"guarantee_premiums"`
	MinimisCeilings   []ceilingEntry `yaml:"minimis_ceilings"`
}

type ratePeriod struct {
	from time.Time
	rate decimal.Decimal
}

type ceilingPeriod struct {
	fromYear int
	toYear   int
	general  decimal.Decimal
	sectors  map[string]decimal.Decimal
}

// Tables is an immutable, in-memory view of the regulatory tables. It
// implements the engine's ReferenceRateLookup, CreditRatingPremiumLookup and
// MinimisCeilingLookup ports.
type Tables struct {
	rates    []ratePeriod
	premiums map[string]decimal.Decimal
	ceilings []ceilingPeriod
}

// Load reads the embedded regulatory.yaml. The path parameter is a filesystem
// fallback for local overrides.
func Load(path string) (*Tables, error) {
	data, err := regulatoryYAML.ReadFile("config/regulatory.yaml")
	if err != nil {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	}

	expanded := os.ExpandEnv(string(data))

	var file tablesFile
	if err := yaml.Unmarshal([]byte(expanded), &file); err != nil {
		return nil, fmt.Errorf("parsing regulatory tables: %w", err)
	}
	return build(file)
}

func build(file tablesFile) (*Tables, error) {
	t := &Tables{premiums: make(map[string]decimal.Decimal)}

	for _, e := range file.ReferenceRates {
		from, err := time.Parse("2006-01-02", e.From)
		if err != nil {
			return nil, fmt.Errorf("reference rate entry %q: %w", e.From, err)
		}
		rate, err := decimal.NewFromString(e.Rate)
		if err != nil {
			return nil, fmt.Errorf("reference rate for %s: %w", e.From, err)
		}
		t.rates = append(t.rates, ratePeriod{from: from, rate: rate})
	}
	sort.Slice(t.rates, func(i, j int) bool { return t.rates[i].from.Before(t.rates[j].from) })

	for _, e := range file.GuaranteePremiums {
		rate, err := decimal.NewFromString(e.Rate)
		if err != nil {
			return nil, fmt.Errorf("premium for rating %s: %w", e.Rating, err)
		}
		t.premiums[e.Rating] = rate
	}

	for _, e := range file.MinimisCeilings {
		general, err := decimal.NewFromString(e.General)
		if err != nil {
			return nil, fmt.Errorf("ceiling for years %d-%d: %w", e.FromYear, e.ToYear, err)
		}
		period := ceilingPeriod{
			fromYear: e.FromYear,
			toYear:   e.ToYear,
			general:  general,
			sectors:  make(map[string]decimal.Decimal),
		}
		for sector, raw := range e.Sectors {
			v, err := decimal.NewFromString(raw)
			if err != nil {
				return nil, fmt.Errorf("ceiling for sector %s in %d-%d: %w", sector, e.FromYear, e.ToYear, err)
			}
			period.sectors[sector] = v
		}
		t.ceilings = append(t.ceilings, period)
	}

	return t, nil
}

// ReferenceRate returns the official reference rate in force on a date.
func (t *Tables) ReferenceRate(_ context.Context, on time.Time) (decimal.Decimal, error) {
	var found *ratePeriod
	for i := range t.rates {
		if t.rates[i].from.After(on) {
			break
		}
		found = &t.rates[i]
	}
	if found == nil {
		return decimal.Zero, fmt.Errorf("%w: reference rate on %s", ErrNotFound, on.Format("2006-01-02"))
	}
	return found.rate, nil
}

// PremiumRate returns the safe-harbour guarantee premium for a rating. The
// premium table is not effective-dated yet; the date parameter is part of the
// port contract so a dated table can replace this one without touching the
// engine.
func (t *Tables) PremiumRate(_ context.Context, rating string, _ time.Time) (decimal.Decimal, error) {
	rate, ok := t.premiums[rating]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: guarantee premium for rating %q", ErrNotFound, rating)
	}
	return rate, nil
}

// Ceiling returns the de-minimis ceiling for a fiscal year and sector. An
// empty or unlisted sector gets the general ceiling.
func (t *Tables) Ceiling(_ context.Context, fiscalYear int, sector string) (decimal.Decimal, error) {
	for _, p := range t.ceilings {
		if fiscalYear < p.fromYear || fiscalYear > p.toYear {
			continue
		}
		if sector != "" {
			if v, ok := p.sectors[sector]; ok {
				return v, nil
			}
		}
		return p.general, nil
	}
	return decimal.Zero, fmt.Errorf("%w: minimis ceiling for fiscal year %d", ErrNotFound, fiscalYear)
}
