package stats

import "time"

// RepoKey identifies a repository by its owner and name.
type RepoKey struct {
	Owner string
	Name  string
}

// UserKey identifies a user by login.
type UserKey struct {
	Login string
}

// RepositoryStats is the cached payload for a repository. Owner and
// Repository carry GitHub's canonical casing, which may differ from the
// casing a caller requested.
type RepositoryStats struct {
	Owner      string `json:"owner"`
	Repository string `json:"repository"`
	Forks      int    `json:"forks"`
	OpenIssues int    `json:"issues"`
	Stargazers int    `json:"stargazers"`
	Watchers   int    `json:"watchers"`

	// AgeMinutes is derived at read time, never persisted. Zero for a
	// payload fetched on this request.
	AgeMinutes int `json:"age"`
}

// UserStats is the cached payload for a user.
type UserStats struct {
	Login       string `json:"login"`
	Name        string `json:"name"`
	Followers   int    `json:"followers"`
	Following   int    `json:"following"`
	PublicRepos int    `json:"public_repos"`
	PublicGists int    `json:"public_gists"`

	AgeMinutes int `json:"age"`
}

// QuotaState is the remote rate-limit window as of one upstream call.
// It is never persisted.
type QuotaState struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RemainingPercent reports how much of the window is left, in [0,100].
func (q QuotaState) RemainingPercent() float64 {
	if q.Limit <= 0 {
		return 0
	}
	return float64(q.Remaining) / float64(q.Limit) * 100
}
