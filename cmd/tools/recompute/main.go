package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/dmoreno/subsidy-registry/internal/config"
	"github.com/dmoreno/subsidy-registry/internal/db"
	"github.com/dmoreno/subsidy-registry/internal/equivalence"
	"github.com/dmoreno/subsidy-registry/internal/regdata"
)

// Recomputes stored equivalent amounts against the current regulatory tables
// and prints the drift. Nothing is written unless -apply is set.
func main() {
	var (
		apply      = flag.Bool("apply", false, "write recomputed equivalents back to the database")
		instrument = flag.String("instrument", "", "only recompute this instrument kind")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	tables, err := regdata.Load(cfg.RegulatoryTables)
	if err != nil {
		log.Fatalf("Failed to load regulatory tables: %v", err)
	}

	store := db.NewStore(pool)
	engine := equivalence.New(tables, tables, tables, store)

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Award", "Instrument", "Grant Date", "Stored", "Recomputed", "Drift"})

	var drifted, unchanged, skipped, updated int
	for offset := 0; ; {
		page, err := store.ListAwards(ctx, db.AwardListParams{
			Instrument: *instrument,
			Limit:      200,
			Offset:     offset,
		})
		if err != nil {
			log.Fatalf("Listing awards: %v", err)
		}
		if len(page.Awards) == 0 {
			break
		}
		offset += len(page.Awards)

		for _, award := range page.Awards {
			kind := equivalence.KindFromString(award.Instrument)
			inst, err := equivalence.FromMetadata(kind, award.InstrumentMeta)
			if err != nil {
				skipped++
				continue
			}

			res, err := engine.ComputeEquivalent(ctx, equivalence.Request{
				Nominal:    award.NominalAmount,
				GrantDate:  award.GrantDate,
				Instrument: inst,
			})
			if err != nil {
				if !errors.Is(err, equivalence.ErrUnsupportedInstrument) {
					log.Printf("Award %s: %v", award.AwardCode, err)
				}
				skipped++
				continue
			}

			if res.Equivalent.Equal(award.EquivalentAmount) {
				unchanged++
				continue
			}

			drifted++
			t.AppendRow(table.Row{
				award.AwardCode,
				award.Instrument,
				award.GrantDate.Format("2006-01-02"),
				award.EquivalentAmount.StringFixed(2),
				res.Equivalent.StringFixed(2),
				res.Equivalent.Sub(award.EquivalentAmount).StringFixed(2),
			})

			if *apply {
				if err := store.UpdateAwardEquivalent(ctx, award.ID, res.Equivalent); err != nil {
					log.Printf("Award %s: update failed: %v", award.AwardCode, err)
					continue
				}
				updated++
			}
		}
	}

	if drifted > 0 {
		t.Render()
	}
	log.Printf("Recompute done: drifted=%d unchanged=%d skipped=%d updated=%d", drifted, unchanged, skipped, updated)
	if drifted > 0 && !*apply {
		log.Print("Run again with -apply to persist the recomputed values")
	}
}
