package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"flowcast/internal/eventlog"
	"flowcast/internal/jira"
	"flowcast/internal/retry"
	"flowcast/internal/warehouse"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTracker struct {
	issues     []jira.IssueDTO
	changelogs map[string]*jira.ChangelogDTO

	// Failures are returned one per call, only for calls at or past the given offset.
	searchFailures    []error
	searchFailFrom    int
	changelogFailures []error
	changelogFailFrom int
	// changelogPageSize caps the histories per changelog page when positive.
	changelogPageSize int

	searches        []string
	searchStarts    []int
	changelogCalls  map[string]int
	changelogStarts []int
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		changelogs:     make(map[string]*jira.ChangelogDTO),
		changelogCalls: make(map[string]int),
	}
}

func (f *fakeTracker) SearchIssues(_ context.Context, jql string, startAt int, maxResults int) (*jira.SearchResponse, error) {
	f.searches = append(f.searches, jql)
	f.searchStarts = append(f.searchStarts, startAt)
	if len(f.searchFailures) > 0 && startAt >= f.searchFailFrom {
		err := f.searchFailures[0]
		f.searchFailures = f.searchFailures[1:]
		return nil, err
	}
	end := min(startAt+maxResults, len(f.issues))
	return &jira.SearchResponse{StartAt: startAt, MaxResults: maxResults, Total: len(f.issues), Issues: f.issues[startAt:end]}, nil
}

func (f *fakeTracker) GetChangelogPage(_ context.Context, key string, startAt int, maxResults int) (*jira.ChangelogPageDTO, error) {
	f.changelogCalls[key]++
	f.changelogStarts = append(f.changelogStarts, startAt)
	if len(f.changelogFailures) > 0 && startAt >= f.changelogFailFrom {
		err := f.changelogFailures[0]
		f.changelogFailures = f.changelogFailures[1:]
		return nil, err
	}

	var histories []jira.HistoryDTO
	if cl, ok := f.changelogs[key]; ok {
		histories = cl.Histories
	}
	size := maxResults
	if f.changelogPageSize > 0 {
		size = min(size, f.changelogPageSize)
	}
	start := min(startAt, len(histories))
	end := min(start+size, len(histories))
	return &jira.ChangelogPageDTO{
		StartAt:    startAt,
		MaxResults: size,
		Total:      len(histories),
		IsLast:     end == len(histories),
		Values:     histories[start:end],
	}, nil
}

// put registers an item whose last update is its latest history entry, or created if it has none.
func (f *fakeTracker) put(key, issueType, updated string, histories ...jira.HistoryDTO) {
	raw := fmt.Sprintf(`{"key": %q, "fields": {
		"issuetype": {"name": %q},
		"project": {"key": "PROJ", "name": "Project X"},
		"created": "2024-03-01T09:00:00.000+0000",
		"updated": %q,
		"customfield_11020": 2
	}}`, key, issueType, updated)
	var dto jira.IssueDTO
	if err := json.Unmarshal([]byte(raw), &dto); err != nil {
		panic(err)
	}

	for i, existing := range f.issues {
		if existing.Key == key {
			f.issues[i] = dto
			f.changelogs[key] = &jira.ChangelogDTO{Histories: histories}
			return
		}
	}
	f.issues = append(f.issues, dto)
	f.changelogs[key] = &jira.ChangelogDTO{Histories: histories}
}

func statusChange(created, from, fromName, to, toName string) jira.HistoryDTO {
	return jira.HistoryDTO{
		Created: created,
		Items:   []jira.ItemDTO{{Field: "status", From: from, FromString: fromName, To: to, ToString: toName}},
	}
}

func keyChange(created, from, to string) jira.HistoryDTO {
	return jira.HistoryDTO{
		Created: created,
		Items:   []jira.ItemDTO{{Field: "Key", FromString: from, ToString: to}},
	}
}

type countingObserver struct {
	candidates, stale int
	written           map[string]int
}

func (o *countingObserver) CandidatesFound(n int) { o.candidates += n }
func (o *countingObserver) StaleItems(n int)      { o.stale += n }
func (o *countingObserver) RowsWritten(table string, n int) {
	if o.written == nil {
		o.written = make(map[string]int)
	}
	o.written[table] += n
}

func noSleepPolicy() retry.Policy {
	p := retry.Default()
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func setup(t *testing.T) (*Engine, *fakeTracker, *warehouse.JSONL) {
	t.Helper()
	store, err := warehouse.NewJSONL(warehouse.Config{Dir: t.TempDir(), EventsTable: "events"})
	require.NoError(t, err)
	tracker := newFakeTracker()
	engine := NewEngine(tracker, store, noSleepPolicy(), Config{
		EventsTable:   "events",
		IssuesTable:   "issues",
		PageSize:      2,
		EstimateField: "customfield_11020",
	}, WithClock(func() time.Time { return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) }))
	return engine, tracker, store
}

func seed(tracker *fakeTracker) {
	tracker.put("PROJ-1", "Story", "2024-03-05T10:00:00.000+0000",
		statusChange("2024-03-04T10:00:00.000+0000", "1", "To Do", "3", "In Progress"),
		statusChange("2024-03-05T10:00:00.000+0000", "3", "In Progress", "10", "Done"),
	)
	tracker.put("PROJ-2", "Bug", "2024-03-06T08:00:00.000+0000",
		statusChange("2024-03-06T08:00:00.000+0000", "1", "To Do", "3", "In Progress"),
	)
	tracker.put("PROJ-3", "Story", "2024-03-06T08:00:00.000+0000")
}

func TestLoadEvents_WritesFullHistory(t *testing.T) {
	ctx := context.Background()
	engine, tracker, store := setup(t)
	seed(tracker)

	result, err := engine.LoadEvents(ctx, DefaultFromDate)
	require.NoError(t, err)
	assert.Equal(t, Result{Candidates: 3, Stale: 3, Selected: 6, Written: 6}, result)
	assert.Len(t, tracker.searches, 2, "page size 2 over 3 items")

	n, err := store.CountRows(ctx, "events")
	require.NoError(t, err)
	assert.EqualValues(t, 6, n)

	_, err = engine.LoadEvents(ctx, DefaultFromDate)
	assert.ErrorIs(t, err, ErrTableNotEmpty)
}

func TestSync_RequiresBootstrap(t *testing.T) {
	engine, tracker, _ := setup(t)
	seed(tracker)

	_, err := engine.Sync(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotBootstrapped)
	assert.Empty(t, tracker.searches, "no tracker traffic before the precondition passes")
}

func TestSync_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	engine, tracker, _ := setup(t)
	seed(tracker)
	_, err := engine.LoadEvents(ctx, DefaultFromDate)
	require.NoError(t, err)

	result, err := engine.Sync(ctx, 1)
	require.NoError(t, err)
	// PROJ-3 has no events, so it has no watermark and is re-examined every time.
	assert.Equal(t, 1, result.Stale)
	assert.Zero(t, result.Selected)
	assert.Zero(t, result.Written)
	assert.Equal(t, 1, tracker.changelogCalls["PROJ-1"], "fresh items are not fetched again")
	assert.Equal(t, `updated >= "2024-03-09" and type in (bug, story, 'tech task', 'tech debt')`, tracker.searches[len(tracker.searches)-1])
}

func TestSync_AppendsOnlyNewerRows(t *testing.T) {
	ctx := context.Background()
	engine, tracker, store := setup(t)
	seed(tracker)
	_, err := engine.LoadEvents(ctx, DefaultFromDate)
	require.NoError(t, err)

	// PROJ-1 is reopened; PROJ-4 is brand new.
	tracker.put("PROJ-1", "Story", "2024-03-09T10:00:00.000+0000",
		statusChange("2024-03-04T10:00:00.000+0000", "1", "To Do", "3", "In Progress"),
		statusChange("2024-03-05T10:00:00.000+0000", "3", "In Progress", "10", "Done"),
		statusChange("2024-03-09T10:00:00.000+0000", "10", "Done", "3", "In Progress"),
	)
	tracker.put("PROJ-4", "Story", "2024-03-09T11:00:00.000+0000",
		statusChange("2024-03-09T11:00:00.000+0000", "1", "To Do", "3", "In Progress"),
	)

	obs := &countingObserver{}
	engine.observer = obs
	result, err := engine.Sync(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Written)
	assert.Equal(t, 4, obs.written["events"])

	latest, err := store.LatestTimestamps(ctx, []string{"PROJ-1", "PROJ-4"})
	require.NoError(t, err)
	assert.True(t, latest["PROJ-1"].Equal(time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)))

	count, err := store.CountEvents(ctx, []string{"PROJ-1"})
	require.NoError(t, err)
	assert.EqualValues(t, 6, count, "earlier rows are not re-inserted")

	again, err := engine.Sync(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, again.Written)
}

func TestSync_CommentOnlyUpdateSelectsNothing(t *testing.T) {
	ctx := context.Background()
	engine, tracker, _ := setup(t)
	tracker.put("PROJ-1", "Story", "2024-03-05T10:00:00.000+0000",
		statusChange("2024-03-05T10:00:00.000+0000", "1", "To Do", "3", "In Progress"),
	)
	_, err := engine.LoadEvents(ctx, DefaultFromDate)
	require.NoError(t, err)

	tracker.put("PROJ-1", "Story", "2024-03-09T10:00:00.000+0000",
		statusChange("2024-03-05T10:00:00.000+0000", "1", "To Do", "3", "In Progress"),
	)
	result, err := engine.Sync(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stale)
	assert.Zero(t, result.Written)
}

func TestCandidates_RetriesTransientSearchFailures(t *testing.T) {
	engine, tracker, _ := setup(t)
	seed(tracker)
	tracker.searchFailures = []error{
		&jira.StatusError{Code: http.StatusServiceUnavailable},
		&jira.StatusError{Code: http.StatusTooManyRequests},
	}

	issues, err := engine.Candidates(context.Background(), DefaultFromDate)
	require.NoError(t, err)
	assert.Len(t, issues, 3)
	assert.Len(t, tracker.searches, 4, "two failures, then two pages")
}

func TestCandidates_RetriesFailedPageOnly(t *testing.T) {
	engine, tracker, _ := setup(t)
	seed(tracker)
	tracker.searchFailFrom = 2
	tracker.searchFailures = []error{&jira.StatusError{Code: http.StatusBadGateway}}

	issues, err := engine.Candidates(context.Background(), DefaultFromDate)
	require.NoError(t, err)
	require.Len(t, issues, 3)
	assert.Equal(t, []int{0, 2, 2}, tracker.searchStarts, "the first page is not fetched again")
	assert.Equal(t, []string{"PROJ-1", "PROJ-2", "PROJ-3"}, []string{issues[0].Key, issues[1].Key, issues[2].Key})
}

func TestChangelog_RetriesFailedPageOnly(t *testing.T) {
	engine, tracker, _ := setup(t)
	tracker.changelogPageSize = 2
	tracker.put("PROJ-1", "Story", "2024-03-07T10:00:00.000+0000",
		statusChange("2024-03-04T10:00:00.000+0000", "1", "To Do", "3", "In Progress"),
		statusChange("2024-03-05T10:00:00.000+0000", "3", "In Progress", "4", "In Review"),
		statusChange("2024-03-06T10:00:00.000+0000", "4", "In Review", "3", "In Progress"),
		statusChange("2024-03-07T10:00:00.000+0000", "3", "In Progress", "10", "Done"),
		statusChange("2024-03-07T11:00:00.000+0000", "10", "Done", "11", "Closed"),
	)
	tracker.changelogFailFrom = 2
	tracker.changelogFailures = []error{
		&jira.StatusError{Code: http.StatusServiceUnavailable},
		&jira.StatusError{Code: http.StatusTooManyRequests},
	}

	changelog, err := engine.Changelog(context.Background(), "PROJ-1")
	require.NoError(t, err)
	assert.Len(t, changelog.Histories, 5)
	assert.Equal(t, []int{0, 2, 2, 2, 4}, tracker.changelogStarts)
}

func TestChangelog_PermanentPageFailurePropagates(t *testing.T) {
	engine, tracker, _ := setup(t)
	tracker.changelogPageSize = 1
	tracker.put("PROJ-1", "Story", "2024-03-05T10:00:00.000+0000",
		statusChange("2024-03-04T10:00:00.000+0000", "1", "To Do", "3", "In Progress"),
		statusChange("2024-03-05T10:00:00.000+0000", "3", "In Progress", "10", "Done"),
	)
	tracker.changelogFailFrom = 1
	tracker.changelogFailures = []error{&jira.StatusError{Code: http.StatusNotFound}}

	_, err := engine.Changelog(context.Background(), "PROJ-1")
	var statusErr *jira.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
	assert.Equal(t, []int{0, 1}, tracker.changelogStarts)
}

func TestLoadEvents_AcceptsTimestampVariants(t *testing.T) {
	ctx := context.Background()
	engine, tracker, store := setup(t)
	tracker.put("PROJ-1", "Story", "2024-03-05T10:00:00.000+0000",
		statusChange("2024-03-04T10:00:00+0000", "1", "To Do", "3", "In Progress"),
		statusChange("2024-03-05T10:00:00.000+0000", "3", "In Progress", "10", "Done"),
	)
	tracker.put("PROJ-2", "Bug", "2024-03-06T08:00:00Z",
		statusChange("2024-03-06T08:00:00Z", "1", "To Do", "3", "In Progress"),
	)
	tracker.put("PROJ-3", "Story", "2024-03-06T08:00:00+00:00")

	result, err := engine.LoadEvents(ctx, DefaultFromDate)
	require.NoError(t, err)
	assert.Equal(t, Result{Candidates: 3, Stale: 3, Selected: 6, Written: 6}, result)

	n, err := store.CountRows(ctx, "events")
	require.NoError(t, err)
	assert.EqualValues(t, 6, n)

	latest, err := store.LatestTimestamps(ctx, []string{"PROJ-1"})
	require.NoError(t, err)
	assert.True(t, latest["PROJ-1"].Equal(time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)))
}

func TestLoadEvents_MalformedHistoryWritesNothing(t *testing.T) {
	ctx := context.Background()
	engine, tracker, store := setup(t)
	seed(tracker)
	tracker.put("PROJ-2", "Bug", "2024-03-06T08:00:00.000+0000",
		statusChange("06/03/2024 08:00", "1", "To Do", "3", "In Progress"),
	)

	_, err := engine.LoadEvents(ctx, DefaultFromDate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PROJ-2")

	n, err := store.CountRows(ctx, "events")
	require.NoError(t, err)
	assert.Zero(t, n, "a partial history is never written")
}

func TestCandidates_UnmappableItemFailsSearch(t *testing.T) {
	engine, tracker, _ := setup(t)
	seed(tracker)
	tracker.put("PROJ-2", "Bug", "sometime on tuesday")

	_, err := engine.Candidates(context.Background(), DefaultFromDate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "map issue PROJ-2")
}

func TestCandidates_PermanentFailurePropagates(t *testing.T) {
	engine, tracker, _ := setup(t)
	seed(tracker)
	tracker.searchFailures = []error{&jira.StatusError{Code: http.StatusUnauthorized}}

	_, err := engine.Candidates(context.Background(), DefaultFromDate)
	var statusErr *jira.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.Code)
	assert.Len(t, tracker.searches, 1)
}

func TestLoadIssues(t *testing.T) {
	ctx := context.Background()
	engine, tracker, store := setup(t)
	seed(tracker)

	written, err := engine.LoadIssues(ctx, DefaultFromDate)
	require.NoError(t, err)
	assert.Equal(t, 3, written)

	n, err := store.CountRows(ctx, "issues")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	_, err = engine.LoadIssues(ctx, DefaultFromDate)
	assert.ErrorIs(t, err, ErrTableNotEmpty)
}

func TestFixKeys_DeletesEventsOfOldKeys(t *testing.T) {
	ctx := context.Background()
	engine, tracker, store := setup(t)

	old := eventlog.EventRow{
		IssueID: "OLD-1", IssueType: "Story", StateID: 3, StateName: "In Progress",
		EventID: eventlog.KindArrival, EventName: "ARRIVAL", Project: "Project X",
		Timestamp: eventlog.NewTimestamp(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)),
	}
	_, err := store.InsertRows(ctx, "events", warehouse.EventRows([]eventlog.EventRow{old, old}))
	require.NoError(t, err)

	tracker.put("PROJ-9", "Story", "2024-03-05T10:00:00.000+0000",
		keyChange("2024-03-05T10:00:00.000+0000", "OLD-1", "PROJ-9"),
	)
	tracker.put("PROJ-1", "Story", "2024-03-05T10:00:00.000+0000")

	result, err := engine.FixKeys(ctx, DefaultFromDate)
	require.NoError(t, err)
	assert.Equal(t, FixResult{Renamed: 1, Deleted: 2}, result)

	n, err := store.CountRows(ctx, "events")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSelectRows(t *testing.T) {
	watermark := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	rows := []eventlog.EventRow{
		{IssueID: "A", Timestamp: eventlog.NewTimestamp(watermark.Add(-time.Second))},
		{IssueID: "A", Timestamp: eventlog.NewTimestamp(watermark)},
		{IssueID: "A", Timestamp: eventlog.NewTimestamp(watermark.Add(time.Microsecond))},
	}

	assert.Len(t, SelectRows(rows, watermark, true), 1, "rows at the watermark are already stored")
	assert.Len(t, SelectRows(rows, time.Time{}, false), 3)
}

func TestBuildJQL(t *testing.T) {
	since := time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, `updated >= "2024-03-09" and type in (bug, 'tech task')`, BuildJQL(since, []string{"bug", " tech task ", ""}))
	assert.Equal(t, `updated >= "2024-03-09"`, BuildJQL(since, nil))
}
