package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"flowcast/cmd/mockgen/engine"
	"flowcast/internal/warehouse"
)

func main() {
	scenario := flag.String("scenario", "mild", "Scenario to generate: mild, chaos, drift")
	distribution := flag.String("distribution", "uniform", "Distribution to use: uniform, weibull")
	driver := flag.String("driver", warehouse.DriverJSONL, "Warehouse driver: jsonl, postgres")
	outDir := flag.String("out", "./.cache/warehouse", "Output directory for the jsonl warehouse")
	dsn := flag.String("dsn", os.Getenv("WAREHOUSE_DSN"), "Postgres connection string")
	project := flag.String("project", "Mock Project", "Project name stored on every event")
	count := flag.Int("count", 200, "Number of issues to generate")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "Random seed")
	flag.Parse()

	cfg := engine.GeneratorConfig{
		Scenario:     *scenario,
		Distribution: *distribution,
		Count:        *count,
		Project:      *project,
		Seed:         *seed,
		Now:          time.Now(),
	}
	whCfg := warehouse.Config{
		Driver:      *driver,
		DSN:         *dsn,
		Dir:         *outDir,
		EventsTable: "jira_events",
		IssuesTable: "jira_issues",
	}

	fmt.Printf("Generating scenario '%s' (Distribution: %s, Count: %d) into %s warehouse...\n", cfg.Scenario, cfg.Distribution, cfg.Count, whCfg.Driver)

	ds := engine.Generate(cfg)

	ctx := context.Background()
	w, err := warehouse.Open(ctx, whCfg)
	if err != nil {
		fmt.Printf("Failed to open warehouse: %v\n", err)
		os.Exit(1)
	}
	defer w.Close()

	if err := engine.Save(ctx, w, whCfg, ds); err != nil {
		fmt.Printf("Failed to save mock data: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Done. %d events, %d issues.\n", len(ds.Events), len(ds.Issues))
}
