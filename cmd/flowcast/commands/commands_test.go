package commands

import (
	"testing"
	"time"

	"flowcast/internal/reconcile"
)

func TestParseSampleRange(t *testing.T) {
	r, err := parseSampleRange([]string{"2024-01-01", "2024-01-31"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Start.String() != "2024-01-01" || r.End.String() != "2024-01-31" {
		t.Errorf("unexpected range %s", r)
	}

	if _, err := parseSampleRange([]string{"2024-01-01"}); err == nil {
		t.Error("expected error for a single date")
	}
	if _, err := parseSampleRange([]string{"2024-02-01", "2024-01-01"}); err == nil {
		t.Error("expected error for an inverted range")
	}
	if _, err := parseSampleRange([]string{"yesterday", "2024-01-01"}); err == nil {
		t.Error("expected error for a malformed date")
	}
}

func TestParseFromDate(t *testing.T) {
	got, err := parseFromDate("")
	if err != nil || !got.Equal(reconcile.DefaultFromDate) {
		t.Errorf("expected default from date, got %v (%v)", got, err)
	}

	got, err = parseFromDate("2023-05-17")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(time.Date(2023, 5, 17, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("got %v", got)
	}

	if _, err := parseFromDate("17/05/2023"); err == nil {
		t.Error("expected error for a non-ISO date")
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"load-events", "load-issues", "sync", "fix-keys", "forecast", "report", "serve"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
}
