package api

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/wesm/argh/internal/models"
	"golang.org/x/oauth2"
)

// PageSize is the number of items requested per page
const PageSize = 100

// Options configure a GitHubClient
type Options struct {
	// Token is a personal access token. It takes priority over App.
	Token string
	App   *AppCredentials
	// BaseURL overrides the REST endpoint (GitHub Enterprise, tests)
	BaseURL string
	// GraphQLURL overrides the GraphQL endpoint. Derived from BaseURL when empty.
	GraphQLURL string
	// Transport is the base transport under retries and auth
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// GitHubClient represents a client for the GitHub API. Every client owns its
// token cache and retry state; concurrent sync jobs use separate clients.
type GitHubClient struct {
	client  *github.Client
	graphql *GraphQLClient
	retry   *retryTransport
	logger  *slog.Logger
}

// NewGitHubClient creates a new GitHub API client
func NewGitHubClient(opts Options) (*GitHubClient, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retry := newRetryTransport(opts.Transport, logger)
	ts, err := tokenSource(opts, retry)
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{Transport: &oauth2.Transport{Source: ts, Base: retry}}

	client, err := newRESTClient(httpClient, opts.BaseURL)
	if err != nil {
		return nil, err
	}

	return &GitHubClient{
		client:  client,
		graphql: newGraphQLClient(httpClient, graphQLEndpoint(opts)),
		retry:   retry,
		logger:  logger,
	}, nil
}

// GraphQL returns the GraphQL client sharing this client's credentials
func (c *GitHubClient) GraphQL() *GraphQLClient {
	return c.graphql
}

// IsNotFound reports whether err is a 404 from the API
func IsNotFound(err error) bool {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode == http.StatusNotFound
	}
	return false
}

// GetRepository gets a repository by owner and name
func (c *GitHubClient) GetRepository(ctx context.Context, owner, name string) (*models.Repository, error) {
	repo, _, err := c.client.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	return ConvertGitHubRepository(repo), nil
}

// ListRepositories lists the repositories of an organization, falling back
// to a user's repositories when no organization by that name exists.
func (c *GitHubClient) ListRepositories(ctx context.Context, orgOrUser string) iter.Seq2[[]*models.Repository, error] {
	asUser := false
	return paginate(func(page int) ([]*models.Repository, bool, error) {
		var repos []*github.Repository
		var err error
		list := github.ListOptions{Page: page, PerPage: PageSize}

		if !asUser {
			repos, _, err = c.client.Repositories.ListByOrg(ctx, orgOrUser,
				&github.RepositoryListByOrgOptions{Type: "all", ListOptions: list})
			if err != nil && page == 1 && IsNotFound(err) {
				asUser = true
			}
		}
		if asUser {
			repos, _, err = c.client.Repositories.List(ctx, orgOrUser,
				&github.RepositoryListOptions{Type: "owner", ListOptions: list})
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to list repositories for %s: %w", orgOrUser, err)
		}

		out := make([]*models.Repository, 0, len(repos))
		for _, r := range repos {
			out = append(out, ConvertGitHubRepository(r))
		}
		return out, len(repos) == PageSize, nil
	})
}

// ItemQuery selects issues or pull requests to fetch
type ItemQuery struct {
	// State is "open", "closed" or "all" (the default)
	State string
	// Since limits results to items updated at or after it when non-zero
	Since time.Time
}

func (q ItemQuery) state() string {
	if q.State == "" {
		return "all"
	}
	return q.State
}

// Issues lists the issues of a repository. The issues endpoint also returns
// pull requests; those are dropped.
func (c *GitHubClient) Issues(ctx context.Context, owner, name string, q ItemQuery) iter.Seq2[[]*models.WorkItem, error] {
	return paginate(func(page int) ([]*models.WorkItem, bool, error) {
		opts := &github.IssueListByRepoOptions{
			State:       q.state(),
			Sort:        "updated",
			Direction:   "desc",
			Since:       q.Since,
			ListOptions: github.ListOptions{Page: page, PerPage: PageSize},
		}
		issues, _, err := c.client.Issues.ListByRepo(ctx, owner, name, opts)
		if err != nil {
			return nil, false, fmt.Errorf("failed to list issues: %w", err)
		}

		out := make([]*models.WorkItem, 0, len(issues))
		for _, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}
			out = append(out, ConvertGitHubIssue(issue))
		}
		return out, len(issues) == PageSize, nil
	})
}

// PullRequests lists the pull requests of a repository, most recently
// updated first. The pulls endpoint has no since parameter, so Since is
// applied here and paging stops at the first older pull request.
func (c *GitHubClient) PullRequests(ctx context.Context, owner, name string, q ItemQuery) iter.Seq2[[]*models.WorkItem, error] {
	return paginate(func(page int) ([]*models.WorkItem, bool, error) {
		opts := &github.PullRequestListOptions{
			State:       q.state(),
			Sort:        "updated",
			Direction:   "desc",
			ListOptions: github.ListOptions{Page: page, PerPage: PageSize},
		}
		prs, _, err := c.client.PullRequests.List(ctx, owner, name, opts)
		if err != nil {
			return nil, false, fmt.Errorf("failed to list pull requests: %w", err)
		}

		more := len(prs) == PageSize
		out := make([]*models.WorkItem, 0, len(prs))
		for _, pr := range prs {
			if !q.Since.IsZero() && pr.GetUpdatedAt().Time.Before(q.Since) {
				more = false
				break
			}
			out = append(out, ConvertGitHubPullRequest(pr))
		}
		return out, more, nil
	})
}

// Comments lists the conversation comments of an issue or pull request
func (c *GitHubClient) Comments(ctx context.Context, owner, name string, item *models.WorkItem) iter.Seq2[[]*models.Comment, error] {
	return paginate(func(page int) ([]*models.Comment, bool, error) {
		opts := &github.IssueListCommentsOptions{
			ListOptions: github.ListOptions{Page: page, PerPage: PageSize},
		}
		comments, _, err := c.client.Issues.ListComments(ctx, owner, name, item.Number, opts)
		if err != nil {
			return nil, false, fmt.Errorf("failed to list comments: %w", err)
		}

		out := make([]*models.Comment, 0, len(comments))
		for _, comment := range comments {
			out = append(out, ConvertGitHubComment(comment, item))
		}
		return out, len(comments) == PageSize, nil
	})
}

// Reactions lists the reactions on an issue or pull request
func (c *GitHubClient) Reactions(ctx context.Context, owner, name string, item *models.WorkItem) iter.Seq2[[]*models.Reaction, error] {
	return paginate(func(page int) ([]*models.Reaction, bool, error) {
		reactions, _, err := c.client.Reactions.ListIssueReactions(ctx, owner, name, item.Number,
			&github.ListOptions{Page: page, PerPage: PageSize})
		if err != nil {
			return nil, false, fmt.Errorf("failed to list reactions: %w", err)
		}

		out := make([]*models.Reaction, 0, len(reactions))
		for _, r := range reactions {
			out = append(out, &models.Reaction{
				ItemType: item.Type,
				ItemID:   item.ID,
				User:     ConvertGitHubUser(r.User),
				Content:  r.GetContent(),
			})
		}
		return out, len(reactions) == PageSize, nil
	})
}

// Reviews lists the reviews of a pull request
func (c *GitHubClient) Reviews(ctx context.Context, owner, name string, pr *models.WorkItem) iter.Seq2[[]*models.Review, error] {
	return paginate(func(page int) ([]*models.Review, bool, error) {
		reviews, _, err := c.client.PullRequests.ListReviews(ctx, owner, name, pr.Number,
			&github.ListOptions{Page: page, PerPage: PageSize})
		if err != nil {
			return nil, false, fmt.Errorf("failed to list reviews: %w", err)
		}

		out := make([]*models.Review, 0, len(reviews))
		for _, r := range reviews {
			out = append(out, ConvertGitHubReview(r, pr.ID))
		}
		return out, len(reviews) == PageSize, nil
	})
}

// FileStats sums the per-file changes of a pull request
func (c *GitHubClient) FileStats(ctx context.Context, owner, name string, pr *models.WorkItem) (*models.FileStats, error) {
	stats := &models.FileStats{}
	for files, err := range paginate(func(page int) ([]*github.CommitFile, bool, error) {
		files, _, err := c.client.PullRequests.ListFiles(ctx, owner, name, pr.Number,
			&github.ListOptions{Page: page, PerPage: PageSize})
		if err != nil {
			return nil, false, fmt.Errorf("failed to list pull request files: %w", err)
		}
		return files, len(files) == PageSize, nil
	}) {
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			stats.Additions += f.GetAdditions()
			stats.Deletions += f.GetDeletions()
			stats.ChangedFiles++
		}
	}
	return stats, nil
}

// Collaborators lists a repository's collaborators with their highest permission
func (c *GitHubClient) Collaborators(ctx context.Context, owner, name string) iter.Seq2[[]*models.Collaborator, error] {
	return paginate(func(page int) ([]*models.Collaborator, bool, error) {
		users, _, err := c.client.Repositories.ListCollaborators(ctx, owner, name,
			&github.ListCollaboratorsOptions{
				Affiliation: "all",
				ListOptions: github.ListOptions{Page: page, PerPage: PageSize},
			})
		if err != nil {
			return nil, false, fmt.Errorf("failed to list collaborators: %w", err)
		}

		out := make([]*models.Collaborator, 0, len(users))
		for _, u := range users {
			out = append(out, &models.Collaborator{
				User:       *ConvertGitHubUser(u),
				Permission: highestPermission(u.GetPermissions()),
			})
		}
		return out, len(users) == PageSize, nil
	})
}

// FileContent returns the decoded content of a file on the default branch
func (c *GitHubClient) FileContent(ctx context.Context, owner, name, path string) ([]byte, error) {
	file, _, _, err := c.client.Repositories.GetContents(ctx, owner, name, path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", path, err)
	}
	if file == nil {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return []byte(content), nil
}

// GetUser fetches a user's profile over REST
func (c *GitHubClient) GetUser(ctx context.Context, login string) (*models.User, string, error) {
	u, _, err := c.client.Users.Get(ctx, login)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get user %s: %w", login, err)
	}
	return ConvertGitHubUser(u), u.GetCompany(), nil
}

// highestPermission collapses GitHub's permission flags to the strongest one
func highestPermission(perms map[string]bool) string {
	for _, p := range []string{"admin", "maintain", "push", "triage", "pull"} {
		if perms[p] {
			return p
		}
	}
	return ""
}

// paginate turns a page fetcher into a lazy sequence of batches. Pages are
// numbered from 1; ranging over the sequence again restarts from page 1.
func paginate[T any](fetch func(page int) ([]T, bool, error)) iter.Seq2[[]T, error] {
	return func(yield func([]T, error) bool) {
		for page := 1; ; page++ {
			batch, more, err := fetch(page)
			if err != nil {
				yield(nil, err)
				return
			}
			if len(batch) > 0 && !yield(batch, nil) {
				return
			}
			if !more {
				return
			}
		}
	}
}

// Collect drains a batch sequence into one slice
func Collect[T any](seq iter.Seq2[[]T, error]) ([]T, error) {
	var all []T
	for batch, err := range seq {
		if err != nil {
			return all, err
		}
		all = append(all, batch...)
	}
	return all, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid GitHub base URL %q: %w", raw, err)
	}
	return u, nil
}

func graphQLEndpoint(opts Options) string {
	if opts.GraphQLURL != "" {
		return opts.GraphQLURL
	}
	if opts.BaseURL == "" {
		return "https://api.github.com/graphql"
	}
	base := strings.TrimSuffix(strings.TrimRight(opts.BaseURL, "/"), "/v3")
	return base + "/graphql"
}
