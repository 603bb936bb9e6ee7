package etl

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dmoreno/subsidy-registry/internal/db"
	"github.com/dmoreno/subsidy-registry/internal/equivalence"
)

// RunStats summarizes one sync run.
type RunStats struct {
	Processed int `json:"processed"`
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Errors    int `json:"errors"`
}

// Pipeline pulls concessions from the registry API, normalizes them and
// upserts calls, beneficiaries and awards. Equivalent amounts are recomputed
// through the engine on load so stored figures always reflect the regulatory
// tables the service was started with.
type Pipeline struct {
	store  *db.Store
	engine *equivalence.Engine
	client *Client
}

func NewPipeline(store *db.Store, engine *equivalence.Engine, client *Client) *Pipeline {
	return &Pipeline{store: store, engine: engine, client: client}
}

// Sync runs one windowed sync and records it as an ETL run. It keeps going
// past individual bad records, counting them as errors; it aborts (and marks
// the run failed) only when a whole page cannot be fetched.
func (p *Pipeline) Sync(ctx context.Context, from, to time.Time) (*RunStats, error) {
	runID, err := p.store.StartEtlRun(ctx, "sync", &from, &to)
	if err != nil {
		return nil, err
	}

	stats := &RunStats{}
	syncErr := p.syncWindow(ctx, from, to, stats)

	status := "completed"
	errMsg := ""
	if syncErr != nil {
		status = "failed"
		errMsg = syncErr.Error()
	}
	if err := p.store.FinishEtlRun(ctx, runID, status, stats.Processed, stats.Inserted, stats.Updated, stats.Errors, errMsg); err != nil {
		log.Printf("[etl] failed to record run %s outcome: %v", runID, err)
	}

	return stats, syncErr
}

func (p *Pipeline) syncWindow(ctx context.Context, from, to time.Time, stats *RunStats) error {
	for page := 0; ; page++ {
		records, more, err := p.client.FetchConcessions(ctx, from, to, page)
		if err != nil {
			return fmt.Errorf("fetching page %d: %w", page, err)
		}

		for _, rec := range records {
			stats.Processed++
			inserted, err := p.loadRecord(ctx, rec)
			if err != nil {
				stats.Errors++
				log.Printf("[etl] record %s: %v", rec.AwardCode, err)
				continue
			}
			if inserted {
				stats.Inserted++
			} else {
				stats.Updated++
			}
		}

		if !more {
			return nil
		}
	}
}

func (p *Pipeline) loadRecord(ctx context.Context, rec ConcessionRecord) (bool, error) {
	norm, err := Normalize(rec)
	if err != nil {
		return false, err
	}

	callID, _, err := p.store.UpsertCall(ctx, &norm.Call)
	if err != nil {
		return false, err
	}
	benID, _, err := p.store.UpsertBeneficiary(ctx, &norm.Beneficiary)
	if err != nil {
		return false, err
	}

	norm.Award.CallID = callID
	norm.Award.BeneficiaryID = benID
	norm.Award.EquivalentAmount = p.equivalentFor(ctx, norm)

	return p.store.UpsertAward(ctx, &norm.Award)
}

// equivalentFor computes the gross grant equivalent for a normalized award.
// When the engine cannot value the instrument (unsupported kind, incomplete
// metadata, missing regulatory data) the upstream figure is kept if the feed
// carried one, else the nominal amount stands in; the award still loads.
func (p *Pipeline) equivalentFor(ctx context.Context, norm *NormalizedRecord) decimal.Decimal {
	kind := equivalence.KindFromString(norm.Award.Instrument)
	inst, err := equivalence.FromMetadata(kind, norm.Award.InstrumentMeta)
	if err == nil {
		res, cerr := p.engine.ComputeEquivalent(ctx, equivalence.Request{
			Nominal:    norm.Award.NominalAmount,
			GrantDate:  norm.Award.GrantDate,
			Instrument: inst,
		})
		if cerr == nil {
			return res.Equivalent
		}
		err = cerr
	}

	if !errors.Is(err, equivalence.ErrUnsupportedInstrument) {
		log.Printf("[etl] award %s: equivalent not computed: %v", norm.Award.AwardCode, err)
	}
	if norm.Award.EquivalentAmount.IsPositive() {
		return norm.Award.EquivalentAmount
	}
	return norm.Award.NominalAmount
}
