// Package gitlab implements the Forge contract against the GitLab REST API
// (gitlab.com or a self-hosted instance).
package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/miabbott/git-year-end-report/internal/domain"
	"github.com/miabbott/git-year-end-report/internal/forge"
)

const (
	forgeName       = "GitLab"
	defaultEndpoint = "https://gitlab.com/api/v4"
)

// Adapter talks to one GitLab instance.
type Adapter struct {
	endpoint   string
	token      string
	httpClient *http.Client
	counter    forge.RequestCounter
	logger     zerolog.Logger
}

var _ forge.Forge = (*Adapter)(nil)

// New builds a GitLab adapter. token may be empty for public projects;
// endpoint overrides the gitlab.com API base for self-hosted instances and
// should include the /api/v4 prefix.
func New(token, endpoint string, logger zerolog.Logger) *Adapter {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	a := &Adapter{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		token:    token,
		logger:   logger.With().Str("forge", forgeName).Logger(),
	}
	a.httpClient = forge.NewHTTPClient(nil, &a.counter)
	return a
}

// Name implements forge.Forge.
func (a *Adapter) Name() string { return forgeName }

// Requests implements forge.Forge.
func (a *Adapter) Requests() int64 { return a.counter.Count() }

// ResetRequests implements forge.Forge.
func (a *Adapter) ResetRequests() { a.counter.Reset() }

// looseTime is an RFC 3339 timestamp that tolerates malformed or absent
// values: anything that does not parse decodes to the zero time, which no
// report range includes. One bad record then skips itself instead of
// failing the page it arrived on.
type looseTime struct {
	time.Time
}

func (t *looseTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t.Time = parsed
	return nil
}

func (t looseTime) In(start, end time.Time) bool {
	if t.IsZero() {
		return false
	}
	return domain.InRange(t.UTC(), start, end)
}

// note is a comment on an issue or merge request.
type note struct {
	System    bool      `json:"system"`
	CreatedAt looseTime `json:"created_at"`
	Author    struct {
		Username string `json:"username"`
	} `json:"author"`
}

// workItem is the shared shape of issues and merge requests.
type workItem struct {
	IID       int       `json:"iid"`
	CreatedAt looseTime `json:"created_at"`
	ClosedAt  looseTime `json:"closed_at"`
	MergedAt  looseTime `json:"merged_at"`
	WebURL    string    `json:"web_url"`
	Author    struct {
		Username string `json:"username"`
	} `json:"author"`
}

type commit struct {
	AuthorName   string    `json:"author_name"`
	AuthoredDate looseTime `json:"authored_date"`
}

// FetchRepoStats implements forge.Forge. Metric fetches run sequentially;
// a failed metric is recorded as a suppressed zero, and only an unreachable
// project fails the job.
func (a *Adapter) FetchRepoStats(ctx context.Context, repo string, usernames []string, start, end time.Time) (*forge.StatsResult, error) {
	projectID := url.PathEscape(repo)

	// Preflight: if the project itself cannot be fetched, the job cannot start.
	if err := a.getJSON(ctx, "/projects/"+projectID, nil, &struct{}{}); err != nil {
		return nil, fmt.Errorf("gitlab: project %s unreachable: %w", repo, err)
	}

	stats := domain.NewRepoStats(forgeName, repo)
	var suppressed []error

	count := func(user *domain.UserStats, metric string, target *int, fetch func() (int, error)) {
		n, err := fetch()
		if err != nil {
			a.logger.Warn().Err(err).
				Str("repo", repo).Str("user", user.Username).Str("metric", metric).
				Msg("metric fetch failed, counting as zero")
			suppressed = append(suppressed, fmt.Errorf("%s %s for %s: %w", repo, metric, user.Username, err))
			return
		}
		*target = n
	}

	for _, username := range forge.DedupeUsernames(usernames) {
		user := domain.NewUserStats(username)

		count(user, "issues_opened", &user.IssuesOpened, func() (int, error) {
			return a.countIssues(ctx, projectID, username, start, end, false)
		})
		count(user, "issues_closed", &user.IssuesClosed, func() (int, error) {
			return a.countIssues(ctx, projectID, username, start, end, true)
		})
		count(user, "prs_opened", &user.PRsOpened, func() (int, error) {
			return a.countMergeRequests(ctx, projectID, username, start, end, mrCreated)
		})
		count(user, "prs_closed", &user.PRsClosed, func() (int, error) {
			return a.countMergeRequests(ctx, projectID, username, start, end, mrClosed)
		})
		count(user, "prs_merged", &user.PRsMerged, func() (int, error) {
			return a.countMergeRequests(ctx, projectID, username, start, end, mrMerged)
		})
		count(user, "commits", &user.Commits, func() (int, error) {
			return a.countCommits(ctx, projectID, username, start, end)
		})
		count(user, "pr_comments", &user.PRComments, func() (int, error) {
			return a.countNotes(ctx, projectID, "merge_requests", username, start, end)
		})
		count(user, "issue_comments", &user.IssueComments, func() (int, error) {
			return a.countNotes(ctx, projectID, "issues", username, start, end)
		})

		stats.AddUserStats(user)
	}

	return &forge.StatsResult{Stats: stats, Suppressed: suppressed}, nil
}

type mrQualifier int

const (
	mrCreated mrQualifier = iota
	mrClosed
	mrMerged
)

func (a *Adapter) countIssues(ctx context.Context, projectID, username string, start, end time.Time, closed bool) (int, error) {
	params := url.Values{}
	params.Set("author_username", username)
	if closed {
		params.Set("state", "closed")
	} else {
		params.Set("created_after", start.Format(time.RFC3339))
		params.Set("created_before", end.Format(time.RFC3339))
	}

	var issues []workItem
	if err := a.getPaginated(ctx, "/projects/"+projectID+"/issues", params, &issues); err != nil {
		return 0, err
	}

	count := 0
	for _, issue := range issues {
		if closed {
			if issue.ClosedAt.In(start, end) {
				count++
			}
		} else if issue.CreatedAt.In(start, end) {
			count++
		}
	}
	return count, nil
}

func (a *Adapter) countMergeRequests(ctx context.Context, projectID, username string, start, end time.Time, qual mrQualifier) (int, error) {
	params := url.Values{}
	params.Set("author_username", username)
	switch qual {
	case mrCreated:
		params.Set("state", "all")
		params.Set("created_after", start.Format(time.RFC3339))
		params.Set("created_before", end.Format(time.RFC3339))
	case mrClosed:
		params.Set("state", "closed")
	case mrMerged:
		params.Set("state", "merged")
	}

	var mrs []workItem
	if err := a.getPaginated(ctx, "/projects/"+projectID+"/merge_requests", params, &mrs); err != nil {
		return 0, err
	}

	count := 0
	for _, mr := range mrs {
		switch qual {
		case mrCreated:
			if mr.CreatedAt.In(start, end) {
				count++
			}
		case mrClosed:
			if mr.ClosedAt.In(start, end) {
				count++
			}
		case mrMerged:
			if mr.MergedAt.In(start, end) {
				count++
			}
		}
	}
	return count, nil
}

func (a *Adapter) countCommits(ctx context.Context, projectID, username string, start, end time.Time) (int, error) {
	params := url.Values{}
	params.Set("author", username)
	params.Set("since", start.Format(time.RFC3339))
	params.Set("until", end.Format(time.RFC3339))

	var commits []commit
	if err := a.getPaginated(ctx, "/projects/"+projectID+"/repository/commits", params, &commits); err != nil {
		return 0, err
	}

	count := 0
	for _, c := range commits {
		if c.AuthoredDate.In(start, end) {
			count++
		}
	}
	return count, nil
}

// countNotes counts the user's comments under the given parent kind
// ("issues" or "merge_requests"). Notes are a sub-resource, one request per
// parent; the parent set is pruned server-side with updated_after before the
// fan-out so stale items cost nothing. System notes (state changes and the
// like) are not comments.
func (a *Adapter) countNotes(ctx context.Context, projectID, kind, username string, start, end time.Time) (int, error) {
	params := url.Values{}
	params.Set("updated_after", start.Format(time.RFC3339))

	var parents []workItem
	if err := a.getPaginated(ctx, "/projects/"+projectID+"/"+kind, params, &parents); err != nil {
		return 0, err
	}

	count := 0
	for _, parent := range parents {
		var notes []note
		path := fmt.Sprintf("/projects/%s/%s/%d/notes", projectID, kind, parent.IID)
		if err := a.getPaginated(ctx, path, nil, &notes); err != nil {
			return 0, err
		}
		for _, n := range notes {
			if n.System || n.Author.Username != username {
				continue
			}
			if n.CreatedAt.In(start, end) {
				count++
			}
		}
	}
	return count, nil
}

// DiscoverRepositories implements forge.Forge. GitLab has no cross-project
// activity search, so discovery unions the user's authored issues and merge
// requests (project path recovered from web_url) with the projects the user
// owns. Users whose queries fail are skipped.
func (a *Adapter) DiscoverRepositories(ctx context.Context, usernames []string, start, end time.Time) (map[string]struct{}, error) {
	repos := make(map[string]struct{})
	for _, username := range usernames {
		params := url.Values{}
		params.Set("scope", "all")
		params.Set("author_username", username)
		params.Set("created_after", start.Format(time.RFC3339))
		params.Set("created_before", end.Format(time.RFC3339))

		for _, path := range []string{"/issues", "/merge_requests"} {
			var items []workItem
			if err := a.getPaginated(ctx, path, params, &items); err != nil {
				a.logger.Warn().Err(err).Str("user", username).Str("path", path).
					Msg("discovery query failed, skipping")
				continue
			}
			for _, item := range items {
				if project := projectFromWebURL(item.WebURL); project != "" {
					repos[project] = struct{}{}
				}
			}
		}

		var projects []struct {
			PathWithNamespace string `json:"path_with_namespace"`
		}
		if err := a.getPaginated(ctx, "/users/"+url.PathEscape(username)+"/projects", nil, &projects); err != nil {
			a.logger.Warn().Err(err).Str("user", username).Msg("project listing failed, skipping")
			continue
		}
		for _, p := range projects {
			if p.PathWithNamespace != "" {
				repos[p.PathWithNamespace] = struct{}{}
			}
		}
	}
	return repos, nil
}

// projectFromWebURL extracts "group/project" from URLs like
// https://gitlab.com/group/project/-/issues/42.
func projectFromWebURL(webURL string) string {
	u, err := url.Parse(webURL)
	if err != nil {
		return ""
	}
	path := strings.TrimPrefix(u.Path, "/")
	if idx := strings.Index(path, "/-/"); idx > 0 {
		return path[:idx]
	}
	return ""
}

// getPaginated drains every page of a listing endpoint into out. Pages are
// 1-indexed at a fixed size of 100; the loop stops on an empty page or when
// the page index reaches the X-Total-Pages header.
func (a *Adapter) getPaginated(ctx context.Context, path string, params url.Values, out any) error {
	merged := url.Values{}
	for k, vs := range params {
		merged[k] = vs
	}
	merged.Set("per_page", strconv.Itoa(forge.PerPage))

	var all []json.RawMessage
	for page := 1; ; page++ {
		merged.Set("page", strconv.Itoa(page))

		var items []json.RawMessage
		totalPages, err := a.get(ctx, path, merged, &items)
		if err != nil {
			return fmt.Errorf("failed to fetch %s (page %d): %w", path, page, err)
		}
		if len(items) == 0 {
			break
		}
		all = append(all, items...)

		if totalPages > 0 && page >= totalPages {
			break
		}
		a.logger.Debug().Str("path", path).Int("page", page+1).Msg("fetching next page")
	}

	joined, err := json.Marshal(all)
	if err != nil {
		return err
	}
	return json.Unmarshal(joined, out)
}

// getJSON fetches a single (non-paginated) resource.
func (a *Adapter) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	_, err := a.get(ctx, path, params, out)
	return err
}

// get performs one authenticated GET and decodes the body into out,
// returning the X-Total-Pages hint when the endpoint provides one.
func (a *Adapter) get(ctx context.Context, path string, params url.Values, out any) (int, error) {
	fullURL := a.endpoint + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if a.token != "" {
		req.Header.Set("PRIVATE-TOKEN", a.token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return 0, fmt.Errorf("authentication failed: invalid token")
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, fmt.Errorf("API error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	totalPages := 0
	if v := resp.Header.Get("X-Total-Pages"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			totalPages = n
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}
	return totalPages, nil
}
