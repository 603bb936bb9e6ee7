package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/dmoreno/subsidy-registry/internal/config"
	"github.com/dmoreno/subsidy-registry/internal/db"
	"github.com/dmoreno/subsidy-registry/internal/equivalence"
	"github.com/dmoreno/subsidy-registry/internal/etl"
	"github.com/dmoreno/subsidy-registry/internal/regdata"
)

func main() {
	var (
		months  = flag.Int("months", 0, "sync window in months (default: SYNC_WINDOW_MONTHS)")
		fromStr = flag.String("from", "", "window start (YYYY-MM-DD, overrides -months)")
		toStr   = flag.String("to", "", "window end (YYYY-MM-DD, default today)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	to := time.Now().UTC().Truncate(24 * time.Hour)
	if *toStr != "" {
		if to, err = time.Parse("2006-01-02", *toStr); err != nil {
			log.Fatalf("Invalid -to date: %v", err)
		}
	}

	windowMonths := cfg.SyncWindowMonths
	if *months > 0 {
		windowMonths = *months
	}
	from := to.AddDate(0, -windowMonths, 0)
	if *fromStr != "" {
		if from, err = time.Parse("2006-01-02", *fromStr); err != nil {
			log.Fatalf("Invalid -from date: %v", err)
		}
	}
	if !from.Before(to) {
		log.Fatalf("Window start %s is not before end %s", from.Format("2006-01-02"), to.Format("2006-01-02"))
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	tables, err := regdata.Load(cfg.RegulatoryTables)
	if err != nil {
		log.Fatalf("Failed to load regulatory tables: %v", err)
	}

	store := db.NewStore(pool)
	engine := equivalence.New(tables, tables, tables, store)
	client := etl.NewClient(cfg.RegistryAPIBase, cfg.RegistryPageSize, cfg.HTTPTimeout, cfg.MaxRetries)
	pipeline := etl.NewPipeline(store, engine, client)

	log.Printf("Syncing concessions %s .. %s", from.Format("2006-01-02"), to.Format("2006-01-02"))
	stats, err := pipeline.Sync(ctx, from, to)
	if err != nil {
		log.Fatalf("Sync failed: %v", err)
	}
	log.Printf("Sync complete: processed=%d inserted=%d updated=%d errors=%d",
		stats.Processed, stats.Inserted, stats.Updated, stats.Errors)
}
