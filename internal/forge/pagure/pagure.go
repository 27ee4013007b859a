// Package pagure implements the Forge contract against the Pagure REST API
// (pagure.io or a self-hosted instance).
//
// Pagure's API returns one JSON object per endpoint with no pagination, and
// timestamps are epoch seconds encoded as strings. Comments only exist on
// the detail endpoint of each issue or pull request, so comment counting is
// one request per parent item; the parent set is pruned by last-update time
// before that fan-out to bound request volume.
package pagure

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
	forgeName       = "Pagure"
	defaultEndpoint = "https://pagure.io/api/0"
)

// Adapter talks to one Pagure instance.
type Adapter struct {
	endpoint   string
	token      string
	httpClient *http.Client
	counter    forge.RequestCounter
	logger     zerolog.Logger
}

var _ forge.Forge = (*Adapter)(nil)

// New builds a Pagure adapter. token may be empty for public projects;
// endpoint overrides the pagure.io API base and should include the /api/0
// prefix.
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

// epoch is Pagure's string-encoded epoch-seconds timestamp. Malformed or
// absent values decode to the zero epoch, which no report range includes.
type epoch string

func (e epoch) Time() time.Time {
	if e == "" {
		return time.Time{}
	}
	f, err := strconv.ParseFloat(string(e), 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(int64(f), 0).UTC()
}

func (e epoch) In(start, end time.Time) bool {
	t := e.Time()
	if t.IsZero() {
		return false
	}
	return domain.InRange(t, start, end)
}

type item struct {
	ID          int   `json:"id"`
	DateCreated epoch `json:"date_created"`
	ClosedAt    epoch `json:"closed_at"`
	DateMerged  epoch `json:"date_merged"`
	LastUpdated epoch `json:"last_updated"`
	User        struct {
		Name string `json:"name"`
	} `json:"user"`
}

type comment struct {
	DateCreated epoch `json:"date_created"`
	User        struct {
		Name string `json:"name"`
	} `json:"user"`
}

// FetchRepoStats implements forge.Forge. Matching the forge's lossy API,
// every metric is best effort: a failed metric request is recorded as a
// suppressed zero. Only an unreachable project fails the job.
func (a *Adapter) FetchRepoStats(ctx context.Context, repo string, usernames []string, start, end time.Time) (*forge.StatsResult, error) {
	// Preflight: if the project itself cannot be fetched, the job cannot start.
	if err := a.getJSON(ctx, "/"+repo, nil, &struct{}{}); err != nil {
		return nil, fmt.Errorf("pagure: project %s unreachable: %w", repo, err)
	}

	stats := domain.NewRepoStats(forgeName, repo)
	var suppressed []error

	count := func(username, metric string, target *int, fetch func() (int, error)) {
		n, err := fetch()
		if err != nil {
			a.logger.Warn().Err(err).
				Str("repo", repo).Str("user", username).Str("metric", metric).
				Msg("metric fetch failed, counting as zero")
			suppressed = append(suppressed, fmt.Errorf("%s %s for %s: %w", repo, metric, username, err))
			return
		}
		*target = n
	}

	for _, username := range forge.DedupeUsernames(usernames) {
		user := domain.NewUserStats(username)

		count(username, "issues_opened", &user.IssuesOpened, func() (int, error) {
			return a.countIssues(ctx, repo, username, start, end, false)
		})
		count(username, "issues_closed", &user.IssuesClosed, func() (int, error) {
			return a.countIssues(ctx, repo, username, start, end, true)
		})
		count(username, "prs_opened", &user.PRsOpened, func() (int, error) {
			return a.countPullRequests(ctx, repo, username, start, end, prCreated)
		})
		count(username, "prs_closed", &user.PRsClosed, func() (int, error) {
			return a.countPullRequests(ctx, repo, username, start, end, prClosed)
		})
		count(username, "prs_merged", &user.PRsMerged, func() (int, error) {
			return a.countPullRequests(ctx, repo, username, start, end, prMerged)
		})
		count(username, "commits", &user.Commits, func() (int, error) {
			return a.countCommits(ctx, repo, username, start, end)
		})
		count(username, "pr_comments", &user.PRComments, func() (int, error) {
			return a.countComments(ctx, repo, username, start, end, prParents)
		})
		count(username, "issue_comments", &user.IssueComments, func() (int, error) {
			return a.countComments(ctx, repo, username, start, end, issueParents)
		})

		stats.AddUserStats(user)
	}

	return &forge.StatsResult{Stats: stats, Suppressed: suppressed}, nil
}

type prQualifier int

const (
	prCreated prQualifier = iota
	prClosed
	prMerged
)

func (a *Adapter) countIssues(ctx context.Context, repo, username string, start, end time.Time, closed bool) (int, error) {
	params := url.Values{}
	params.Set("status", "all")
	params.Set("author", username)

	var payload struct {
		Issues []item `json:"issues"`
	}
	if err := a.getJSON(ctx, "/"+repo+"/issues", params, &payload); err != nil {
		return 0, err
	}

	count := 0
	for _, issue := range payload.Issues {
		if closed {
			if issue.ClosedAt.In(start, end) {
				count++
			}
		} else if issue.DateCreated.In(start, end) {
			count++
		}
	}
	return count, nil
}

func (a *Adapter) countPullRequests(ctx context.Context, repo, username string, start, end time.Time, qual prQualifier) (int, error) {
	params := url.Values{}
	params.Set("author", username)
	if qual == prMerged {
		params.Set("status", "Merged")
	} else {
		params.Set("status", "all")
	}

	var payload struct {
		Requests []item `json:"requests"`
	}
	if err := a.getJSON(ctx, "/"+repo+"/pull-requests", params, &payload); err != nil {
		return 0, err
	}

	count := 0
	for _, pr := range payload.Requests {
		switch qual {
		case prCreated:
			if pr.DateCreated.In(start, end) {
				count++
			}
		case prClosed:
			if pr.ClosedAt.In(start, end) {
				count++
			}
		case prMerged:
			if pr.DateMerged.In(start, end) {
				count++
			}
		}
	}
	return count, nil
}

func (a *Adapter) countCommits(ctx context.Context, repo, username string, start, end time.Time) (int, error) {
	var payload struct {
		Commits []struct {
			CommitTime epoch `json:"commit_time"`
			Author     struct {
				Name string `json:"name"`
			} `json:"author"`
		} `json:"commits"`
	}
	if err := a.getJSON(ctx, "/"+repo+"/git/log", nil, &payload); err != nil {
		return 0, err
	}

	count := 0
	for _, c := range payload.Commits {
		if c.Author.Name == username && c.CommitTime.In(start, end) {
			count++
		}
	}
	return count, nil
}

// parentKind names the listing and detail endpoints for one comment parent
// type.
type parentKind struct {
	listPath   string
	listKey    string
	detailPath string
}

var (
	prParents    = parentKind{listPath: "/pull-requests", listKey: "requests", detailPath: "/pull-request/"}
	issueParents = parentKind{listPath: "/issues", listKey: "issues", detailPath: "/issue/"}
)

// countComments counts the user's comments across all parents of one kind.
// Comments require one detail request per parent, so parents whose
// last_updated predates the range start are pruned first: a comment cannot
// be newer than its parent's last update.
func (a *Adapter) countComments(ctx context.Context, repo, username string, start, end time.Time, kind parentKind) (int, error) {
	params := url.Values{}
	params.Set("status", "all")

	var payload map[string]json.RawMessage
	if err := a.getJSON(ctx, "/"+repo+kind.listPath, params, &payload); err != nil {
		return 0, err
	}
	var parents []item
	if raw, ok := payload[kind.listKey]; ok {
		if err := json.Unmarshal(raw, &parents); err != nil {
			return 0, fmt.Errorf("failed to decode %s listing: %w", kind.listKey, err)
		}
	}

	count := 0
	for _, parent := range parents {
		if t := parent.LastUpdated.Time(); !t.IsZero() && t.Before(start) {
			continue
		}

		var detail struct {
			Comments []comment `json:"comments"`
		}
		path := fmt.Sprintf("/%s%s%d", repo, kind.detailPath, parent.ID)
		if err := a.getJSON(ctx, path, nil, &detail); err != nil {
			return 0, err
		}
		for _, c := range detail.Comments {
			if c.User.Name == username && c.DateCreated.In(start, end) {
				count++
			}
		}
	}
	return count, nil
}

// DiscoverRepositories implements forge.Forge. Pagure has no activity
// search, so discovery is limited to the projects each user owns or has
// forked, straight off the user endpoint. Unknown users are skipped.
func (a *Adapter) DiscoverRepositories(ctx context.Context, usernames []string, start, end time.Time) (map[string]struct{}, error) {
	repos := make(map[string]struct{})
	for _, username := range usernames {
		var payload struct {
			User struct {
				Repos []struct {
					Fullname string `json:"fullname"`
				} `json:"repos"`
				Forks []struct {
					Fullname string `json:"fullname"`
				} `json:"forks"`
			} `json:"user"`
		}
		if err := a.getJSON(ctx, "/user/"+url.PathEscape(username), nil, &payload); err != nil {
			a.logger.Warn().Err(err).Str("user", username).Msg("user lookup failed, skipping")
			continue
		}
		for _, r := range payload.User.Repos {
			if r.Fullname != "" {
				repos[r.Fullname] = struct{}{}
			}
		}
		for _, f := range payload.User.Forks {
			if f.Fullname != "" {
				repos[f.Fullname] = struct{}{}
			}
		}
	}
	return repos, nil
}

// getJSON performs one authenticated GET and decodes the single JSON object
// Pagure returns for every endpoint.
func (a *Adapter) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	fullURL := a.endpoint + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if a.token != "" {
		req.Header.Set("Authorization", "token "+a.token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("API error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
