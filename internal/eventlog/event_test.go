package eventlog

import (
	"encoding/json"
	"testing"
	"time"
)

func TestKindFromName(t *testing.T) {
	tests := []struct {
		name string
		want Kind
	}{
		{"DEPARTURE", KindDeparture},
		{"OTHER", KindOther},
		{"ARRIVAL", KindArrival},
		{"arrival", KindArrival},
		{"TELEPORT", KindUnknown},
		{"", KindUnknown},
	}
	for _, tt := range tests {
		if got := KindFromName(tt.name); got != tt.want {
			t.Errorf("KindFromName(%q) = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestNormalizeKind(t *testing.T) {
	if got := NormalizeKind(3); got != KindArrival {
		t.Errorf("NormalizeKind(3) = %d", got)
	}
	if got := NormalizeKind(7); got != KindUnknown {
		t.Errorf("NormalizeKind(7) = %d, want 99", got)
	}
}

func TestEventRow_JSON(t *testing.T) {
	row := EventRow{
		IssueID:   "TEST-1",
		IssueType: "Bug",
		StateID:   3,
		StateName: "In Progress",
		EventID:   KindArrival,
		EventName: "ARRIVAL",
		Timestamp: NewTimestamp(time.Date(2024, 3, 20, 9, 15, 0, 123456789, time.FixedZone("CET", 3600))),
		Project:   "Test",
	}

	data, err := json.Marshal(row)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"issue_id":"TEST-1","issue_type":"Bug","state_id":3,"state_name":"In Progress","event_id":3,"event_name":"ARRIVAL","timestamp":"2024-03-20 08:15:00.123456","project":"Test"}`
	if string(data) != want {
		t.Errorf("got  %s\nwant %s", data, want)
	}

	var back EventRow
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !back.Timestamp.Equal(row.Timestamp.Time) {
		t.Errorf("timestamp changed: %v vs %v", back.Timestamp, row.Timestamp)
	}
}

func TestEventRow_Validate(t *testing.T) {
	if err := (EventRow{}).Validate(); err == nil {
		t.Error("expected empty row to be invalid")
	}
	ok := EventRow{IssueID: "A-1", EventName: "ARRIVAL", EventID: KindArrival, Timestamp: NewTimestamp(time.Now())}
	if err := ok.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
