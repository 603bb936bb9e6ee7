package main

import (
	"context"
	"log"

	"github.com/dmoreno/subsidy-registry/internal/api"
	"github.com/dmoreno/subsidy-registry/internal/config"
	"github.com/dmoreno/subsidy-registry/internal/db"
	"github.com/dmoreno/subsidy-registry/internal/equivalence"
	"github.com/dmoreno/subsidy-registry/internal/regdata"
)

func main() {
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

	if err := db.ApplyMigrations(ctx, pool); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	tables, err := regdata.Load(cfg.RegulatoryTables)
	if err != nil {
		log.Fatalf("Failed to load regulatory tables: %v", err)
	}

	store := db.NewStore(pool)
	engine := equivalence.New(tables, tables, tables, store)

	srv := api.NewServer(pool, cfg, engine)
	log.Printf("Server starting on port %s...", cfg.Port)
	if err := srv.Start(cfg.Port); err != nil {
		log.Fatal(err)
	}
}
