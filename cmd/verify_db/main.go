package main

import (
	"context"
	"fmt"
	"log"

	"github.com/dmoreno/subsidy-registry/internal/db"
)

func main() {
	ctx := context.Background()
	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	store := db.NewStore(pool)
	stats, err := store.GetStats(ctx)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	fmt.Printf("Calls:         %d\n", stats.Calls)
	fmt.Printf("Beneficiaries: %d\n", stats.Beneficiaries)
	fmt.Printf("Awards:        %d\n", stats.Awards)
	fmt.Printf("Total nominal: %s\n", stats.TotalNominal)

	var minimisCount int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM awards WHERE aid_regime = 'minimis'").Scan(&minimisCount); err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	fmt.Printf("Minimis awards: %d\n", minimisCount)
}
