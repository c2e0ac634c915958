package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bradleyfalzon/ghinstallation/v2"
	gh "github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"gitstars/internal/domain/stats"
	"gitstars/internal/errs"
	"gitstars/internal/ports"
)

// Auth selects how the upstream client authenticates. All fields optional;
// an empty Auth produces an anonymous client with GitHub's unauthenticated
// quota (60 calls/hour).
type Auth struct {
	Token          string
	AppID          int64
	InstallationID int64
	PrivateKeyPath string
}

// Source fetches repository and user statistics from the GitHub REST API.
// It is the only component that talks to the network; the cache core sees
// it through ports.UpstreamSource.
type Source struct {
	client *gh.Client
}

var _ ports.UpstreamSource = (*Source)(nil)

// NewSource builds a Source from auth config. GitHub App credentials win
// over a personal token when both are set.
func NewSource(auth Auth) (*Source, error) {
	if auth.AppID != 0 || auth.InstallationID != 0 || auth.PrivateKeyPath != "" {
		if auth.AppID == 0 || auth.InstallationID == 0 || auth.PrivateKeyPath == "" {
			return nil, errors.New("github app auth requires app_id, installation_id and private_key_path")
		}
		itr, err := ghinstallation.NewKeyFromFile(http.DefaultTransport, auth.AppID, auth.InstallationID, auth.PrivateKeyPath)
		if err != nil {
			return nil, errs.Wrap(err, "load github app key")
		}
		return &Source{client: gh.NewClient(&http.Client{Transport: itr})}, nil
	}

	if auth.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: auth.Token})
		return &Source{client: gh.NewClient(oauth2.NewClient(context.Background(), ts))}, nil
	}
	return &Source{client: gh.NewClient(nil)}, nil
}

// NewSourceWithClient is for tests pointed at a stub API server.
func NewSourceWithClient(client *gh.Client) *Source {
	return &Source{client: client}
}

func (s *Source) FetchRepo(ctx context.Context, key stats.RepoKey) (stats.RepositoryStats, error) {
	if ctx == nil {
		return stats.RepositoryStats{}, errors.New("context is required")
	}

	repo, _, err := s.client.Repositories.Get(ctx, key.Owner, key.Name)
	if err != nil {
		return stats.RepositoryStats{}, mapFetchError(err, "fetch repository")
	}

	return stats.RepositoryStats{
		Owner:      repo.GetOwner().GetLogin(),
		Repository: repo.GetName(),
		Forks:      repo.GetForksCount(),
		OpenIssues: repo.GetOpenIssuesCount(),
		Stargazers: repo.GetStargazersCount(),
		Watchers:   repo.GetSubscribersCount(),
	}, nil
}

func (s *Source) FetchUser(ctx context.Context, key stats.UserKey) (stats.UserStats, error) {
	if ctx == nil {
		return stats.UserStats{}, errors.New("context is required")
	}

	user, _, err := s.client.Users.Get(ctx, key.Login)
	if err != nil {
		return stats.UserStats{}, mapFetchError(err, "fetch user")
	}

	return stats.UserStats{
		Login:       user.GetLogin(),
		Name:        user.GetName(),
		Followers:   user.GetFollowers(),
		Following:   user.GetFollowing(),
		PublicRepos: user.GetPublicRepos(),
		PublicGists: user.GetPublicGists(),
	}, nil
}

// Quota reads the current core rate-limit window. The /rate_limit endpoint
// is free: it does not count against the quota it reports.
func (s *Source) Quota(ctx context.Context) (stats.QuotaState, error) {
	if ctx == nil {
		return stats.QuotaState{}, errors.New("context is required")
	}

	limits, _, err := s.client.RateLimit.Get(ctx)
	if err != nil {
		return stats.QuotaState{}, fmt.Errorf("fetch rate limit: %w: %w", stats.ErrUpstream, err)
	}

	core := limits.GetCore()
	if core == nil {
		return stats.QuotaState{}, fmt.Errorf("fetch rate limit: %w: missing core resource", stats.ErrUpstream)
	}

	return stats.QuotaState{
		Limit:     core.Limit,
		Remaining: core.Remaining,
		ResetAt:   core.Reset.Time.UTC(),
	}, nil
}

// mapFetchError folds the API error space into the domain sentinels.
// Missing and private subjects are both ErrNotFound: a 403/401 on a subject
// means we may not see it, and absence is not cached either way.
func mapFetchError(err error, msg string) error {
	var apiErr *gh.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		switch apiErr.Response.StatusCode {
		case http.StatusNotFound, http.StatusForbidden, http.StatusUnauthorized:
			return fmt.Errorf("%s: %w", msg, stats.ErrNotFound)
		}
	}
	return fmt.Errorf("%s: %w: %w", msg, stats.ErrUpstream, err)
}
