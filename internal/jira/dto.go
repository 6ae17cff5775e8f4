package jira

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SearchResponse is the top-level container for Jira search results.
type SearchResponse struct {
	StartAt    int        `json:"startAt"`
	MaxResults int        `json:"maxResults"`
	Total      int        `json:"total"`
	Issues     []IssueDTO `json:"issues"`
}

// IssueDTO represents a single issue in the Jira search response.
type IssueDTO struct {
	Key       string        `json:"key"`
	Fields    FieldsDTO     `json:"fields"`
	Changelog *ChangelogDTO `json:"changelog,omitempty"`
}

// FieldsDTO contains the specific fields we care about.
type FieldsDTO struct {
	IssueType struct {
		Name    string `json:"name"`
		Subtask bool   `json:"subtask"`
	} `json:"issuetype"`
	Project struct {
		ID   string `json:"id"`
		Key  string `json:"key"`
		Name string `json:"name"`
	} `json:"project"`
	Assignee *UserDTO `json:"assignee"`
	Status   struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"status"`
	Created string `json:"created"`
	Updated string `json:"updated"`

	// Custom holds every customfield_* value verbatim; the estimate field id is configurable.
	Custom map[string]json.RawMessage `json:"-"`
}

// UserDTO is the subset of a Jira user we keep.
type UserDTO struct {
	AccountID   string `json:"accountId"`
	DisplayName string `json:"displayName"`
}

// UnmarshalJSON decodes the static fields and keeps custom fields aside.
func (f *FieldsDTO) UnmarshalJSON(data []byte) error {
	type plain FieldsDTO
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = FieldsDTO(p)
	for k, v := range raw {
		if !strings.HasPrefix(k, "customfield_") {
			continue
		}
		if f.Custom == nil {
			f.Custom = make(map[string]json.RawMessage)
		}
		f.Custom[k] = v
	}
	return nil
}

// Number returns a numeric custom field, or nil when it is absent, null or not a number.
func (f FieldsDTO) Number(fieldID string) *float64 {
	raw, ok := f.Custom[fieldID]
	if !ok {
		return nil
	}
	var v *float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

// ChangelogDTO contains historical transitions.
type ChangelogDTO struct {
	Histories []HistoryDTO `json:"histories"`
}

// ChangelogPageDTO is one page of the dedicated changelog endpoint.
type ChangelogPageDTO struct {
	StartAt    int          `json:"startAt"`
	MaxResults int          `json:"maxResults"`
	Total      int          `json:"total"`
	IsLast     bool         `json:"isLast"`
	Values     []HistoryDTO `json:"values"`
}

// ChangelogPageSize is the number of histories requested per changelog page.
const ChangelogPageSize = 100

// Last reports whether fetched, the histories received so far including this page,
// completes the changelog.
func (p *ChangelogPageDTO) Last(fetched int) bool {
	return p.IsLast || len(p.Values) == 0 || (p.Total > 0 && fetched >= p.Total)
}

// HistoryDTO is a single entry in the changelog.
type HistoryDTO struct {
	ID      string    `json:"id"`
	Created string    `json:"created"`
	Items   []ItemDTO `json:"items"`
}

// ItemDTO is a single field change within a history entry.
type ItemDTO struct {
	Field      string `json:"field"`
	FieldID    string `json:"fieldId,omitempty"`
	ToString   string `json:"toString"`
	FromString string `json:"fromString"`
	To         string `json:"to"`   // ID
	From       string `json:"from"` // ID
}

// TimeLayout is the timestamp format used by the Jira REST API.
const TimeLayout = "2006-01-02T15:04:05.000-0700"

// timeLayouts are the ISO-8601 variants Jira emits: with or without milliseconds,
// with a numeric offset with or without a colon, or with a Z suffix.
var timeLayouts = []string{
	TimeLayout,
	"2006-01-02T15:04:05-0700",
	time.RFC3339Nano,
}

// ParseTime reads a Jira timestamp. An unparseable value is an error, never a zero time.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized Jira timestamp %q", s)
}
