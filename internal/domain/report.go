package domain

import "time"

// Report is the complete activity report for one year. RepoStats entries are
// appended in fetch order; totals are always recomputed from the entries so
// the derived view can never drift from the stored data.
type Report struct {
	Year      int          `json:"year"`
	StartDate time.Time    `json:"start_date"`
	EndDate   time.Time    `json:"end_date"`
	Repos     []*RepoStats `json:"repos"`
}

// NewReport creates a report for the given year. The range starts at
// January 1 00:00:00 UTC. For the current year the range ends at now, so an
// in-progress year always reports up to the moment of generation; for past
// years it ends at December 31 23:59:59 UTC.
func NewReport(year int, now time.Time) *Report {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := now.UTC()
	if end.Year() != year {
		end = time.Date(year, time.December, 31, 23, 59, 59, 0, time.UTC)
	}
	return &Report{
		Year:      year,
		StartDate: start,
		EndDate:   end,
	}
}

// AddRepoStats appends a repository entry, preserving fetch order.
func (r *Report) AddRepoStats(stats *RepoStats) {
	r.Repos = append(r.Repos, stats)
}

// TotalStats folds every repository entry into per-user aggregates. The
// result is recomputed on every call and is independent of the order in
// which the entries were appended.
func (r *Report) TotalStats() map[string]*UserStats {
	totals := make(map[string]*UserStats)
	for _, repo := range r.Repos {
		for username, stats := range repo.UserStats {
			total, ok := totals[username]
			if !ok {
				total = NewUserStats(username)
				totals[username] = total
			}
			total.Merge(stats)
		}
	}
	return totals
}

// InRange reports whether t falls within [start, end], inclusive on both
// bounds. Every adapter applies this instant-level check client-side, on top
// of whatever coarse narrowing the forge's query parameters allow.
func InRange(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}
