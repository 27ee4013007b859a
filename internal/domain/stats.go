// Package domain contains the core data structures and domain logic for the application.
package domain

// UserStats holds the activity counters for a single user within one scope
// (a repository, or a report-wide aggregate).
type UserStats struct {
	Username      string `json:"username"`
	IssuesOpened  int    `json:"issues_opened"`
	IssuesClosed  int    `json:"issues_closed"`
	PRsOpened     int    `json:"prs_opened"`
	PRsClosed     int    `json:"prs_closed"`
	PRsMerged     int    `json:"prs_merged"`
	Commits       int    `json:"commits"`
	PRComments    int    `json:"pr_comments"`
	IssueComments int    `json:"issue_comments"`
}

// NewUserStats returns a zero-valued UserStats for the given username.
func NewUserStats(username string) *UserStats {
	return &UserStats{Username: username}
}

// Merge adds the counters of other into s. The operation is commutative and
// associative over the counter fields, so merge order never changes totals.
func (s *UserStats) Merge(other *UserStats) {
	s.IssuesOpened += other.IssuesOpened
	s.IssuesClosed += other.IssuesClosed
	s.PRsOpened += other.PRsOpened
	s.PRsClosed += other.PRsClosed
	s.PRsMerged += other.PRsMerged
	s.Commits += other.Commits
	s.PRComments += other.PRComments
	s.IssueComments += other.IssueComments
}

// IsZero reports whether every counter is zero.
func (s *UserStats) IsZero() bool {
	return s.IssuesOpened == 0 && s.IssuesClosed == 0 &&
		s.PRsOpened == 0 && s.PRsClosed == 0 && s.PRsMerged == 0 &&
		s.Commits == 0 && s.PRComments == 0 && s.IssueComments == 0
}

// RepoStats holds the per-user activity counters for a single repository
// on a single forge.
type RepoStats struct {
	Forge     string                `json:"forge"`
	Repo      string                `json:"repo"`
	UserStats map[string]*UserStats `json:"user_stats"`
}

// NewRepoStats returns an empty RepoStats for the given forge and repository.
func NewRepoStats(forge, repo string) *RepoStats {
	return &RepoStats{
		Forge:     forge,
		Repo:      repo,
		UserStats: make(map[string]*UserStats),
	}
}

// AddUserStats inserts stats into the repository's per-user map. If an entry
// for the username already exists the counters are merged field-wise, which
// keeps repeated fetches for the same repository additive.
func (r *RepoStats) AddUserStats(stats *UserStats) {
	if existing, ok := r.UserStats[stats.Username]; ok {
		existing.Merge(stats)
		return
	}
	r.UserStats[stats.Username] = stats
}

// HasActivity reports whether any tracked user has a non-zero counter.
func (r *RepoStats) HasActivity() bool {
	for _, stats := range r.UserStats {
		if !stats.IsZero() {
			return true
		}
	}
	return false
}
