package jira

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// MapIssue transforms a Jira DTO into a domain Issue.
// The updated timestamp drives reconciliation, so an unparseable one is an error, as is a
// present but unparseable created timestamp.
func MapIssue(item IssueDTO, estimateField string) (Issue, error) {
	issue := Issue{
		Key:        item.Key,
		IssueType:  item.Fields.IssueType.Name,
		Project:    item.Fields.Project.Name,
		ProjectKey: item.Fields.Project.Key,
		Estimate:   item.Fields.Number(estimateField),
	}

	if issue.ProjectKey == "" {
		if idx := strings.Index(issue.Key, "-"); idx > 0 {
			issue.ProjectKey = issue.Key[:idx]
		}
	}

	if item.Fields.Assignee != nil && item.Fields.Assignee.DisplayName != "" {
		name := item.Fields.Assignee.DisplayName
		issue.Assignee = &name
	}

	if item.Fields.Created != "" {
		t, err := ParseTime(item.Fields.Created)
		if err != nil {
			return Issue{}, fmt.Errorf("issue %s: invalid created timestamp: %w", item.Key, err)
		}
		issue.Created = t
	}

	t, err := ParseTime(item.Fields.Updated)
	if err != nil {
		return Issue{}, fmt.Errorf("issue %s: invalid updated timestamp: %w", item.Key, err)
	}
	issue.Updated = t

	return issue, nil
}

// KeyChange records one rename of an issue key.
type KeyChange struct {
	At   time.Time
	From string
	To   string
}

// KeyChanges lists the key renames in the changelog, oldest first.
// A rename entry with an unreadable timestamp is an error.
func KeyChanges(changelog *ChangelogDTO) ([]KeyChange, error) {
	if changelog == nil {
		return nil, nil
	}
	var changes []KeyChange
	for _, h := range changelog.Histories {
		for _, itm := range h.Items {
			if itm.Field != "Key" {
				continue
			}
			at, err := ParseTime(h.Created)
			if err != nil {
				return nil, fmt.Errorf("key change %s -> %s: %w", itm.FromString, itm.ToString, err)
			}
			changes = append(changes, KeyChange{At: at, From: itm.FromString, To: itm.ToString})
		}
	}
	slices.SortStableFunc(changes, func(a, b KeyChange) int {
		return a.At.Compare(b.At)
	})
	return changes, nil
}
