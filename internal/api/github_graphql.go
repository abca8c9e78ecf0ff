package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shurcooL/githubv4"
)

// ErrUserNotFound is returned when no account has the requested login
var ErrUserNotFound = errors.New("user not found")

// GraphQLClient represents a client for the GitHub GraphQL API
type GraphQLClient struct {
	client *githubv4.Client
}

func newGraphQLClient(httpClient *http.Client, endpoint string) *GraphQLClient {
	return &GraphQLClient{client: githubv4.NewEnterpriseClient(endpoint, httpClient)}
}

// Profile is the part of a user's GitHub profile the sync needs
type Profile struct {
	ID      int64
	Login   string
	Company string
}

// actor mirrors the GraphQL RepositoryOwner interface. Users and organizations
// both carry a database id.
type actor struct {
	Login githubv4.String
	User  struct {
		DatabaseID githubv4.Int
		Company    *githubv4.String
	} `graphql:"... on User"`
	Organization struct {
		DatabaseID githubv4.Int
	} `graphql:"... on Organization"`
}

// LookupUser fetches a profile by login. Unknown logins give ErrUserNotFound.
func (c *GraphQLClient) LookupUser(ctx context.Context, login string) (*Profile, error) {
	var query struct {
		RepositoryOwner *actor `graphql:"repositoryOwner(login: $login)"`
	}
	variables := map[string]interface{}{
		"login": githubv4.String(login),
	}

	if err := c.client.Query(ctx, &query, variables); err != nil {
		if strings.Contains(err.Error(), "Could not resolve") {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user %s: %w", login, err)
	}
	if query.RepositoryOwner == nil {
		return nil, ErrUserNotFound
	}

	owner := query.RepositoryOwner
	id := int64(owner.User.DatabaseID)
	if id == 0 {
		id = int64(owner.Organization.DatabaseID)
	}
	if id == 0 {
		return nil, ErrUserNotFound
	}
	profile := &Profile{ID: id, Login: string(owner.Login)}
	if owner.User.Company != nil {
		profile.Company = strings.TrimSpace(string(*owner.User.Company))
	}
	return profile, nil
}
