// Package github implements the Forge contract against the GitHub REST API,
// with repository discovery backed by the GraphQL search endpoint.
package github

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	gh "github.com/google/go-github/v62/github"
	"github.com/rs/zerolog"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/miabbott/git-year-end-report/internal/domain"
	"github.com/miabbott/git-year-end-report/internal/forge"
)

const forgeName = "GitHub"

// maxConcurrentFetches bounds the per-user metric fan-out so a single job
// cannot monopolize the forge's rate budget.
const maxConcurrentFetches = 4

// Adapter talks to one GitHub instance (github.com or an Enterprise host).
type Adapter struct {
	rest    *gh.Client
	graphql *githubv4.Client
	counter forge.RequestCounter
	logger  zerolog.Logger
}

var _ forge.Forge = (*Adapter)(nil)

// New builds a GitHub adapter. token may be empty for anonymous access;
// endpoint overrides the api.github.com base URL for Enterprise hosts.
func New(token, endpoint string, logger zerolog.Logger) (*Adapter, error) {
	a := &Adapter{logger: logger.With().Str("forge", forgeName).Logger()}

	rateLimitWaiter, err := github_ratelimit.NewRateLimitWaiter(nil, github_ratelimit.WithSingleSleepLimit(1*time.Hour, nil))
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit waiter: %w", err)
	}

	var transport http.RoundTripper = rateLimitWaiter
	if token != "" {
		transport = &oauth2.Transport{
			Base:   rateLimitWaiter,
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
		}
	}
	httpClient := forge.NewHTTPClient(transport, &a.counter)

	a.rest = gh.NewClient(httpClient)
	a.graphql = githubv4.NewClient(httpClient)
	if endpoint != "" {
		endpoint = strings.TrimSuffix(endpoint, "/")
		a.rest, err = a.rest.WithEnterpriseURLs(endpoint, endpoint)
		if err != nil {
			return nil, fmt.Errorf("invalid github endpoint %q: %w", endpoint, err)
		}
		a.graphql = githubv4.NewEnterpriseClient(endpoint+"/graphql", httpClient)
	}
	return a, nil
}

// Name implements forge.Forge.
func (a *Adapter) Name() string { return forgeName }

// Requests implements forge.Forge.
func (a *Adapter) Requests() int64 { return a.counter.Count() }

// ResetRequests implements forge.Forge.
func (a *Adapter) ResetRequests() { a.counter.Reset() }

// metricFetch pairs one counting request sequence with the counter field it
// fills in.
type metricFetch struct {
	name   string
	fetch  func(ctx context.Context) (int, error)
	assign func(stats *domain.UserStats, count int)
}

// FetchRepoStats implements forge.Forge. The eight metric fetches per user
// run concurrently under a bounded pool; a metric whose requests fail is
// recorded as a suppressed zero rather than failing the job. Only an
// unreachable repository fails the job as a whole.
func (a *Adapter) FetchRepoStats(ctx context.Context, repo string, usernames []string, start, end time.Time) (*forge.StatsResult, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}
	if _, _, err := a.rest.Repositories.Get(ctx, owner, name); err != nil {
		return nil, fmt.Errorf("github: repository %s unreachable: %w", repo, err)
	}

	stats := domain.NewRepoStats(forgeName, repo)
	var (
		mu         sync.Mutex
		suppressed []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for _, username := range forge.DedupeUsernames(usernames) {
		user := domain.NewUserStats(username)
		stats.AddUserStats(user)

		for _, m := range a.metricFetches(owner, name, username, start, end) {
			username, m := username, m
			g.Go(func() error {
				count, err := m.fetch(gctx)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					a.logger.Warn().Err(err).
						Str("repo", repo).Str("user", username).Str("metric", m.name).
						Msg("metric fetch failed, counting as zero")
					suppressed = append(suppressed, fmt.Errorf("%s %s for %s: %w", repo, m.name, username, err))
					return nil
				}
				m.assign(user, count)
				return nil
			})
		}
	}
	// Goroutines only ever return nil; errors land in suppressed.
	_ = g.Wait()

	return &forge.StatsResult{Stats: stats, Suppressed: suppressed}, nil
}

func (a *Adapter) metricFetches(owner, name, username string, start, end time.Time) []metricFetch {
	return []metricFetch{
		{
			name: "issues_opened",
			fetch: func(ctx context.Context) (int, error) {
				return a.countIssues(ctx, owner, name, username, start, end, false)
			},
			assign: func(s *domain.UserStats, n int) { s.IssuesOpened = n },
		},
		{
			name: "issues_closed",
			fetch: func(ctx context.Context) (int, error) {
				return a.countIssues(ctx, owner, name, username, start, end, true)
			},
			assign: func(s *domain.UserStats, n int) { s.IssuesClosed = n },
		},
		{
			name: "prs_opened",
			fetch: func(ctx context.Context) (int, error) {
				return a.countPullRequests(ctx, owner, name, username, start, end, prCreated)
			},
			assign: func(s *domain.UserStats, n int) { s.PRsOpened = n },
		},
		{
			name: "prs_closed",
			fetch: func(ctx context.Context) (int, error) {
				return a.countPullRequests(ctx, owner, name, username, start, end, prClosed)
			},
			assign: func(s *domain.UserStats, n int) { s.PRsClosed = n },
		},
		{
			name: "prs_merged",
			fetch: func(ctx context.Context) (int, error) {
				return a.countPullRequests(ctx, owner, name, username, start, end, prMerged)
			},
			assign: func(s *domain.UserStats, n int) { s.PRsMerged = n },
		},
		{
			name: "commits",
			fetch: func(ctx context.Context) (int, error) {
				return a.countCommits(ctx, owner, name, username, start, end)
			},
			assign: func(s *domain.UserStats, n int) { s.Commits = n },
		},
		{
			name: "pr_comments",
			fetch: func(ctx context.Context) (int, error) {
				return a.countPRComments(ctx, owner, name, username, start, end)
			},
			assign: func(s *domain.UserStats, n int) { s.PRComments = n },
		},
		{
			name: "issue_comments",
			fetch: func(ctx context.Context) (int, error) {
				return a.countIssueComments(ctx, owner, name, username, start, end)
			},
			assign: func(s *domain.UserStats, n int) { s.IssueComments = n },
		},
	}
}

// countIssues counts issues created by username (closed=false, creation time
// qualifies) or closed issues by username (closed=true, close time
// qualifies). The since parameter only narrows server-side; the instant
// check is always reapplied here.
func (a *Adapter) countIssues(ctx context.Context, owner, name, username string, start, end time.Time, closed bool) (int, error) {
	state := "all"
	if closed {
		state = "closed"
	}
	opts := &gh.IssueListByRepoOptions{
		Creator:     username,
		State:       state,
		Since:       start,
		ListOptions: gh.ListOptions{PerPage: forge.PerPage},
	}

	count := 0
	for {
		issues, resp, err := a.rest.Issues.ListByRepo(ctx, owner, name, opts)
		if err != nil {
			return 0, fmt.Errorf("failed to list issues: %w", err)
		}
		for _, issue := range issues {
			if issue.PullRequestLinks != nil {
				// The issues endpoint returns PRs too.
				continue
			}
			if closed {
				if issue.ClosedAt != nil && domain.InRange(issue.GetClosedAt().Time, start, end) {
					count++
				}
			} else {
				if issue.CreatedAt != nil && domain.InRange(issue.GetCreatedAt().Time, start, end) {
					count++
				}
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
		a.logger.Debug().Int("page", resp.NextPage).Msg("fetching next page of issues")
	}
	return count, nil
}

type prQualifier int

const (
	prCreated prQualifier = iota
	prClosed
	prMerged
)

// countPullRequests counts the user's pull requests by the qualifier's
// timestamp. The pulls endpoint cannot filter by author, so authorship is
// checked client-side.
func (a *Adapter) countPullRequests(ctx context.Context, owner, name, username string, start, end time.Time, qual prQualifier) (int, error) {
	state := "all"
	if qual != prCreated {
		state = "closed"
	}
	opts := &gh.PullRequestListOptions{
		State:       state,
		ListOptions: gh.ListOptions{PerPage: forge.PerPage},
	}

	count := 0
	for {
		prs, resp, err := a.rest.PullRequests.List(ctx, owner, name, opts)
		if err != nil {
			return 0, fmt.Errorf("failed to list pull requests: %w", err)
		}
		for _, pr := range prs {
			if pr.GetUser().GetLogin() != username {
				continue
			}
			switch qual {
			case prCreated:
				if pr.CreatedAt != nil && domain.InRange(pr.GetCreatedAt().Time, start, end) {
					count++
				}
			case prClosed:
				if pr.ClosedAt != nil && domain.InRange(pr.GetClosedAt().Time, start, end) {
					count++
				}
			case prMerged:
				if pr.MergedAt != nil && domain.InRange(pr.GetMergedAt().Time, start, end) {
					count++
				}
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
		a.logger.Debug().Int("page", resp.NextPage).Msg("fetching next page of pull requests")
	}
	return count, nil
}

// countCommits counts commits authored by username, qualified by author time.
func (a *Adapter) countCommits(ctx context.Context, owner, name, username string, start, end time.Time) (int, error) {
	opts := &gh.CommitsListOptions{
		Author:      username,
		Since:       start,
		Until:       end,
		ListOptions: gh.ListOptions{PerPage: forge.PerPage},
	}

	count := 0
	for {
		commits, resp, err := a.rest.Repositories.ListCommits(ctx, owner, name, opts)
		if err != nil {
			return 0, fmt.Errorf("failed to list commits: %w", err)
		}
		for _, c := range commits {
			date := c.GetCommit().GetAuthor().GetDate()
			if domain.InRange(date.Time, start, end) {
				count++
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
		a.logger.Debug().Int("page", resp.NextPage).Msg("fetching next page of commits")
	}
	return count, nil
}

// countPRComments counts distinct pull requests on which the user left at
// least one review comment in range. GitHub's repo-wide comment listing has
// no per-author filter, and counting distinct parent items is this forge's
// documented approximation: two comments on one PR count as one.
func (a *Adapter) countPRComments(ctx context.Context, owner, name, username string, start, end time.Time) (int, error) {
	opts := &gh.PullRequestListCommentsOptions{
		Since:       start,
		ListOptions: gh.ListOptions{PerPage: forge.PerPage},
	}

	parents := make(map[string]struct{})
	for {
		// PR number 0 lists comments across the whole repository.
		comments, resp, err := a.rest.PullRequests.ListComments(ctx, owner, name, 0, opts)
		if err != nil {
			return 0, fmt.Errorf("failed to list pull request comments: %w", err)
		}
		for _, c := range comments {
			if c.GetUser().GetLogin() != username || c.CreatedAt == nil {
				continue
			}
			if domain.InRange(c.GetCreatedAt().Time, start, end) {
				parents[c.GetPullRequestURL()] = struct{}{}
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return len(parents), nil
}

// countIssueComments is the issue-side twin of countPRComments, with the same
// distinct-parent approximation.
func (a *Adapter) countIssueComments(ctx context.Context, owner, name, username string, start, end time.Time) (int, error) {
	since := start
	opts := &gh.IssueListCommentsOptions{
		Since:       &since,
		ListOptions: gh.ListOptions{PerPage: forge.PerPage},
	}

	parents := make(map[string]struct{})
	for {
		// Issue number 0 lists comments across the whole repository.
		comments, resp, err := a.rest.Issues.ListComments(ctx, owner, name, 0, opts)
		if err != nil {
			return 0, fmt.Errorf("failed to list issue comments: %w", err)
		}
		for _, c := range comments {
			if c.GetUser().GetLogin() != username || c.CreatedAt == nil {
				continue
			}
			if domain.InRange(c.GetCreatedAt().Time, start, end) {
				parents[c.GetIssueURL()] = struct{}{}
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return len(parents), nil
}

// discoverQuery searches issues and pull requests authored by one user and
// collects the repositories they live in.
type discoverQuery struct {
	Search struct {
		PageInfo struct {
			HasNextPage bool
			EndCursor   githubv4.String
		}
		Edges []struct {
			Node struct {
				Typename string `graphql:"__typename"`
				Issue    struct {
					Repository struct {
						NameWithOwner string
					}
				} `graphql:"... on Issue"`
				PullRequest struct {
					Repository struct {
						NameWithOwner string
					}
				} `graphql:"... on PullRequest"`
			}
		}
	} `graphql:"search(query: $query, type: ISSUE, first: 100, after: $cursor)"`
}

// DiscoverRepositories implements forge.Forge using the GraphQL search API.
// Search qualifiers are date-grained, which is fine here: discovery feeds
// configuration, not scoring. Users whose search fails are skipped.
func (a *Adapter) DiscoverRepositories(ctx context.Context, usernames []string, start, end time.Time) (map[string]struct{}, error) {
	repos := make(map[string]struct{})
	for _, username := range usernames {
		query := fmt.Sprintf("author:%s created:%s..%s",
			username, start.Format("2006-01-02"), end.Format("2006-01-02"))
		variables := map[string]interface{}{
			"query":  githubv4.String(query),
			"cursor": (*githubv4.String)(nil),
		}
		for {
			var q discoverQuery
			if err := a.graphql.Query(ctx, &q, variables); err != nil {
				a.logger.Warn().Err(err).Str("user", username).Msg("discovery search failed, skipping user")
				break
			}
			for _, edge := range q.Search.Edges {
				name := edge.Node.Issue.Repository.NameWithOwner
				if edge.Node.Typename == "PullRequest" {
					name = edge.Node.PullRequest.Repository.NameWithOwner
				}
				if name != "" {
					repos[name] = struct{}{}
				}
			}
			if !q.Search.PageInfo.HasNextPage {
				break
			}
			variables["cursor"] = githubv4.NewString(q.Search.PageInfo.EndCursor)
		}
	}
	return repos, nil
}

func splitRepo(repo string) (owner, name string, err error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("github: repository %q is not in owner/repo form", repo)
	}
	return parts[0], parts[1], nil
}
