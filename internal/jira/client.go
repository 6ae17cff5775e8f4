package jira

import (
	"context"
	"time"
)

// Issue is the typed view of a Jira work item used by reconciliation and reporting.
type Issue struct {
	Key        string
	IssueType  string
	Project    string
	ProjectKey string
	Assignee   *string
	Estimate   *float64
	Created    time.Time
	Updated    time.Time
}

// Client is the interface for interacting with Jira.
type Client interface {
	SearchIssues(ctx context.Context, jql string, startAt int, maxResults int) (*SearchResponse, error)
	GetChangelogPage(ctx context.Context, key string, startAt int, maxResults int) (*ChangelogPageDTO, error)
}

// Config holds the authentication and connection settings for Jira.
type Config struct {
	BaseURL string

	// Cloud basic auth (username + API token)
	Username string
	APIToken string

	// Personal Access Token, preferred when set
	Token string

	// EstimateField is the custom field id holding the story point estimate.
	EstimateField string

	// Performance Settings
	RequestDelay time.Duration
	Timeout      time.Duration
}

// NewClient creates a new Jira client based on the provided configuration.
func NewClient(cfg Config) Client {
	return NewCloudClient(cfg)
}
