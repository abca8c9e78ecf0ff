package api

import (
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/wesm/argh/internal/models"
)

// ConvertGitHubRepository converts a GitHub repository to our model
func ConvertGitHubRepository(repo *github.Repository) *models.Repository {
	return &models.Repository{
		ID:         repo.GetID(),
		Owner:      repo.GetOwner().GetLogin(),
		Name:       repo.GetName(),
		FullName:   repo.GetFullName(),
		Visibility: repo.GetVisibility(),
		Private:    repo.GetPrivate(),
		Archived:   repo.GetArchived(),
		CreatedAt:  repo.GetCreatedAt().Time,
		UpdatedAt:  repo.GetUpdatedAt().Time,
		PushedAt:   timePtr(repo.PushedAt),
	}
}

// ConvertGitHubUser converts a GitHub user to our model
func ConvertGitHubUser(user *github.User) *models.User {
	if user == nil {
		return nil
	}

	return &models.User{
		ID:        user.GetID(),
		Login:     user.GetLogin(),
		Type:      user.GetType(),
		AvatarURL: user.GetAvatarURL(),
	}
}

// ConvertGitHubIssue converts a GitHub issue to our model
func ConvertGitHubIssue(issue *github.Issue) *models.WorkItem {
	return &models.WorkItem{
		Type:         models.ItemIssue,
		ID:           issue.GetID(),
		Number:       issue.GetNumber(),
		Title:        issue.GetTitle(),
		Body:         issue.GetBody(),
		State:        issue.GetState(),
		Author:       ConvertGitHubUser(issue.User),
		Labels:       convertLabels(issue.Labels),
		Assignees:    convertUsers(issue.Assignees),
		CommentCount: issue.GetComments(),
		CreatedAt:    issue.GetCreatedAt().Time,
		UpdatedAt:    issue.GetUpdatedAt().Time,
		ClosedAt:     timePtr(issue.ClosedAt),
	}
}

// ConvertGitHubPullRequest converts a GitHub pull request to our model. The
// list endpoint carries no diff stats; those are fetched separately.
func ConvertGitHubPullRequest(pr *github.PullRequest) *models.WorkItem {
	item := &models.WorkItem{
		Type:           models.ItemPullRequest,
		ID:             pr.GetID(),
		Number:         pr.GetNumber(),
		Title:          pr.GetTitle(),
		Body:           pr.GetBody(),
		State:          pr.GetState(),
		Author:         ConvertGitHubUser(pr.User),
		Labels:         convertLabels(pr.Labels),
		Assignees:      convertUsers(pr.Assignees),
		CommentCount:   pr.GetComments(),
		CreatedAt:      pr.GetCreatedAt().Time,
		UpdatedAt:      pr.GetUpdatedAt().Time,
		ClosedAt:       timePtr(pr.ClosedAt),
		Draft:          pr.GetDraft(),
		MergedAt:       timePtr(pr.MergedAt),
		MergeableState: pr.GetMergeableState(),
	}
	item.Merged = pr.GetMerged() || item.MergedAt != nil
	if pr.Additions != nil {
		item.Additions = pr.Additions
		item.Deletions = pr.Deletions
		item.ChangedFiles = pr.ChangedFiles
	}
	return item
}

// ConvertGitHubComment converts a GitHub comment to our model
func ConvertGitHubComment(comment *github.IssueComment, item *models.WorkItem) *models.Comment {
	return &models.Comment{
		ID:        comment.GetID(),
		ItemType:  item.Type,
		ItemID:    item.ID,
		Author:    ConvertGitHubUser(comment.User),
		Body:      comment.GetBody(),
		CreatedAt: comment.GetCreatedAt().Time,
		UpdatedAt: comment.GetUpdatedAt().Time,
	}
}

// ConvertGitHubReview converts a pull request review to our model
func ConvertGitHubReview(review *github.PullRequestReview, prID int64) *models.Review {
	return &models.Review{
		ID:            review.GetID(),
		PullRequestID: prID,
		Reviewer:      ConvertGitHubUser(review.User),
		State:         review.GetState(),
		Body:          review.GetBody(),
		SubmittedAt:   timePtr(review.SubmittedAt),
	}
}

// ConvertGitHubLabel converts a GitHub label to our model
func ConvertGitHubLabel(label *github.Label) models.Label {
	return models.Label{
		ID:    label.GetID(),
		Name:  label.GetName(),
		Color: label.GetColor(),
	}
}

func convertLabels(labels []*github.Label) []models.Label {
	out := make([]models.Label, 0, len(labels))
	for _, l := range labels {
		out = append(out, ConvertGitHubLabel(l))
	}
	return out
}

func convertUsers(users []*github.User) []models.User {
	out := make([]models.User, 0, len(users))
	for _, u := range users {
		if u == nil {
			continue
		}
		out = append(out, *ConvertGitHubUser(u))
	}
	return out
}

func timePtr(ts *github.Timestamp) *time.Time {
	if ts == nil {
		return nil
	}
	t := ts.Time
	return &t
}
