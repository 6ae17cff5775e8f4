// Package engine generates synthetic status histories for exercising the warehouse and the forecaster
// without a Jira instance.
package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"flowcast/internal/eventlog"
	"flowcast/internal/warehouse"
)

type GeneratorConfig struct {
	Scenario     string
	Distribution string // "uniform" or "weibull"
	Count        int
	Project      string
	Seed         uint64
	Now          time.Time
}

var (
	statusOpen       = eventlog.Status{ID: 1, Name: "Open"}
	statusInProgress = eventlog.Status{ID: 3, Name: "In Progress"}
	statusReview     = eventlog.Status{ID: 10400, Name: "In Review"}
	statusDone       = eventlog.Status{ID: 10001, Name: "Done"}
)

var issueTypes = []string{"Story", "Story", "Story", "Bug", "Tech Task"}

// Dataset is one generated project: its event rows and the per-item estimates.
type Dataset struct {
	Events []eventlog.EventRow
	Issues []eventlog.IssueRow
}

func Generate(cfg GeneratorConfig) Dataset {
	if cfg.Now.IsZero() {
		cfg.Now = time.Now()
	}
	if cfg.Project == "" {
		cfg.Project = "Mock Project"
	}
	r := rand.New(rand.NewPCG(cfg.Seed, 0))

	var ds Dataset

	// Roughly one item starts per day, so the last one starts today.
	tStart := cfg.Now.AddDate(0, 0, -cfg.Count)

	for i := 0; i < cfg.Count; i++ {
		key := fmt.Sprintf("MOCK-%d", i+1)
		issueType := issueTypes[r.IntN(len(issueTypes))]
		start := tStart.Add(time.Duration(i*24) * time.Hour)

		k, lambda := 2.5, 9.5 // Mild: ~5 day cycle time
		switch cfg.Scenario {
		case "chaos":
			k = 0.8
			if cfg.Distribution == "weibull" {
				lambda = 12.0
			}
		case "drift":
			ratio := float64(i) / float64(cfg.Count)
			k = 2.5 - (1.7 * ratio)
			lambda = 9.5 + (2.5 * ratio)
		}

		var cycle float64
		if cfg.Distribution == "weibull" {
			cycle = weibullSample(r, k, lambda)
		} else {
			cycle = 3.0 + r.Float64()*5.0
			if cfg.Scenario == "chaos" && r.Float64() < 0.2 {
				cycle += 10 + r.Float64()*15 // Controlled Black Swans
			}
			if cfg.Scenario == "drift" && i > cfg.Count/2 {
				cycle *= 2.0
			}
		}

		steps := []struct {
			at       float64
			from, to eventlog.Status
		}{
			{0, statusOpen, statusInProgress},
			{0.7, statusInProgress, statusReview},
			{1, statusReview, statusDone},
		}
		item := eventlog.FlowEvent{IssueKey: key, IssueType: issueType, Project: cfg.Project}
		var events []eventlog.FlowEvent
		for _, s := range steps {
			ts := start.Add(time.Duration(cycle * s.at * 24 * float64(time.Hour)))
			if !ts.Before(cfg.Now) {
				break
			}
			item.From, item.To, item.Timestamp = s.from, s.to, ts
			item.Kind = eventlog.KindDeparture
			events = append(events, item)
			item.Kind = eventlog.KindArrival
			events = append(events, item)
		}
		ds.Events = append(ds.Events, eventlog.Rows(events)...)

		estimate := float64([]int{1, 2, 3, 5, 8}[r.IntN(5)])
		ds.Issues = append(ds.Issues, eventlog.IssueRow{IssueID: key, Estimate: &estimate})
	}

	return ds
}

func weibullSample(r *rand.Rand, k, lambda float64) float64 {
	u := r.Float64()
	if u == 0 {
		u = 0.0001
	}
	// X = lambda * (-ln(1-u))^(1/k)
	return lambda * math.Pow(-math.Log(1.0-u), 1.0/k)
}

// Save appends the dataset to the warehouse tables in batches.
func Save(ctx context.Context, w warehouse.Warehouse, cfg warehouse.Config, ds Dataset) error {
	if _, err := warehouse.WriteBatches(ctx, w, cfg.EventsTable, warehouse.EventRows(ds.Events), warehouse.DefaultBatchSize); err != nil {
		return fmt.Errorf("write events: %w", err)
	}
	if _, err := warehouse.WriteBatches(ctx, w, cfg.IssuesTable, warehouse.IssueRows(ds.Issues), warehouse.DefaultBatchSize); err != nil {
		return fmt.Errorf("write issues: %w", err)
	}
	return nil
}
