package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserStats_Merge(t *testing.T) {
	a := &UserStats{Username: "alice", IssuesOpened: 2, PRsMerged: 1, Commits: 10}
	b := &UserStats{Username: "alice", IssuesOpened: 3, IssuesClosed: 1, Commits: 5}

	a.Merge(b)

	assert.Equal(t, 5, a.IssuesOpened)
	assert.Equal(t, 1, a.IssuesClosed)
	assert.Equal(t, 1, a.PRsMerged)
	assert.Equal(t, 15, a.Commits)
	// b is untouched.
	assert.Equal(t, 3, b.IssuesOpened)
}

func TestUserStats_IsZero(t *testing.T) {
	assert.True(t, NewUserStats("alice").IsZero())
	assert.False(t, (&UserStats{Username: "alice", IssueComments: 1}).IsZero())
}

func TestRepoStats_AddUserStats(t *testing.T) {
	t.Run("new username inserts", func(t *testing.T) {
		repo := NewRepoStats("GitHub", "org/repo")
		repo.AddUserStats(&UserStats{Username: "alice", Commits: 3})

		assert.Len(t, repo.UserStats, 1)
		assert.Equal(t, 3, repo.UserStats["alice"].Commits)
	})

	t.Run("existing username merges instead of replacing", func(t *testing.T) {
		repo := NewRepoStats("GitHub", "org/repo")
		repo.AddUserStats(&UserStats{Username: "alice", Commits: 3, IssuesOpened: 1})
		repo.AddUserStats(&UserStats{Username: "alice", Commits: 2, PRsOpened: 4})

		assert.Len(t, repo.UserStats, 1)
		assert.Equal(t, 5, repo.UserStats["alice"].Commits)
		assert.Equal(t, 1, repo.UserStats["alice"].IssuesOpened)
		assert.Equal(t, 4, repo.UserStats["alice"].PRsOpened)
	})
}

func TestRepoStats_HasActivity(t *testing.T) {
	repo := NewRepoStats("Pagure", "some/project")
	assert.False(t, repo.HasActivity())

	repo.AddUserStats(NewUserStats("alice"))
	assert.False(t, repo.HasActivity())

	repo.AddUserStats(&UserStats{Username: "bob", PRComments: 1})
	assert.True(t, repo.HasActivity())
}
