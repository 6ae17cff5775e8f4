package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type cloudClient struct {
	cfg        Config
	httpClient *http.Client

	mu          sync.Mutex
	lastRequest time.Time
}

// NewCloudClient returns a Client for the Jira REST API v2.
func NewCloudClient(cfg Config) Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.EstimateField == "" {
		cfg.EstimateField = "customfield_11020"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &cloudClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

func (c *cloudClient) throttle(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.lastRequest)
	if c.cfg.RequestDelay > 0 && elapsed < c.cfg.RequestDelay {
		wait := c.cfg.RequestDelay - elapsed
		log.Debug().Dur("wait", wait).Msg("Throttling Jira request")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	c.lastRequest = time.Now()
	return nil
}

func (c *cloudClient) authenticateRequest(req *http.Request) {
	// 1. Prioritize Personal Access Token (PAT)
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.cfg.Token))
		return
	}

	// 2. Fallback to cloud basic auth
	if c.cfg.Username != "" && c.cfg.APIToken != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.APIToken)
	}
}

func (c *cloudClient) getJSON(ctx context.Context, resource, rawURL string, out any) error {
	if c.cfg.BaseURL == "" {
		return fmt.Errorf("jira: base URL is not configured")
	}
	if err := c.throttle(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	c.authenticateRequest(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{
			Code:       resp.StatusCode,
			RetryAfter: resp.Header.Get("Retry-After"),
			Resource:   resource,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", resource, err)
	}
	return nil
}

func (c *cloudClient) SearchIssues(ctx context.Context, jql string, startAt int, maxResults int) (*SearchResponse, error) {
	params := url.Values{}
	params.Set("jql", jql)
	params.Set("startAt", strconv.Itoa(startAt))
	params.Set("maxResults", strconv.Itoa(maxResults))
	params.Set("fields", "issuetype,project,assignee,status,created,updated,"+c.cfg.EstimateField)

	searchURL := fmt.Sprintf("%s/rest/api/2/search?%s", c.cfg.BaseURL, params.Encode())
	log.Debug().Str("url", searchURL).Str("jql", jql).Int("startAt", startAt).Msg("Jira search details")

	var result SearchResponse
	if err := c.getJSON(ctx, "issue search", searchURL, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetChangelogPage fetches one page of the issue's changelog, histories in API order.
func (c *cloudClient) GetChangelogPage(ctx context.Context, key string, startAt int, maxResults int) (*ChangelogPageDTO, error) {
	params := url.Values{}
	params.Set("startAt", strconv.Itoa(startAt))
	params.Set("maxResults", strconv.Itoa(maxResults))
	pageURL := fmt.Sprintf("%s/rest/api/2/issue/%s/changelog?%s", c.cfg.BaseURL, url.PathEscape(key), params.Encode())

	var page ChangelogPageDTO
	if err := c.getJSON(ctx, "changelog of "+key, pageURL, &page); err != nil {
		return nil, err
	}
	log.Debug().Str("key", key).Int("startAt", startAt).Int("histories", len(page.Values)).Msg("Fetched changelog page")
	return &page, nil
}
