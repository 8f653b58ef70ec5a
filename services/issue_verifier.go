// services/issue_verifier.go
package services

import (
	"context"
	"net/http"
	"time"

	"github.com/google/go-github/v68/github"
)

// IssueVerifier answers whether a GitHub issue exists and what state it is
// in. Network failures surface as upstream_unavailable — the state machine
// must not proceed past a funding or completion guard on that failure.
type IssueVerifier interface {
	IsIssueOpen(ctx context.Context, owner, repo string, number int) (bool, error)
	IsIssueClosed(ctx context.Context, owner, repo string, number int) (bool, error)
}

// GitHubIssueVerifier implements IssueVerifier against the GitHub REST API.
type GitHubIssueVerifier struct {
	client *github.Client
}

// NewGitHubIssueVerifier builds a verifier with the provided OAuth token.
// An empty token yields an unauthenticated client (60 req/hour).
func NewGitHubIssueVerifier(token string) *GitHubIssueVerifier {
	client := github.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return &GitHubIssueVerifier{client: client}
}

// NewGitHubIssueVerifierWithHTTPClient is used by tests with httptest servers.
func NewGitHubIssueVerifierWithHTTPClient(httpClient *http.Client, baseURL string) *GitHubIssueVerifier {
	client := github.NewClient(httpClient)
	if baseURL != "" {
		client, _ = client.WithEnterpriseURLs(baseURL, baseURL)
	}
	return &GitHubIssueVerifier{client: client}
}

func (v *GitHubIssueVerifier) IsIssueOpen(ctx context.Context, owner, repo string, number int) (bool, error) {
	state, err := v.issueState(ctx, owner, repo, number)
	if err != nil {
		return false, err
	}
	return state == "open", nil
}

func (v *GitHubIssueVerifier) IsIssueClosed(ctx context.Context, owner, repo string, number int) (bool, error) {
	state, err := v.issueState(ctx, owner, repo, number)
	if err != nil {
		return false, err
	}
	return state == "closed", nil
}

func (v *GitHubIssueVerifier) issueState(ctx context.Context, owner, repo string, number int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	issue, resp, err := v.client.Issues.Get(ctx, owner, repo, number)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return "", Errf(ErrKindNotFound, "issue %s/%s#%d not found", owner, repo, number)
		}
		return "", WrapErr(ErrKindUpstreamUnavailable, err, "github lookup failed for %s/%s#%d", owner, repo, number)
	}
	return issue.GetState(), nil
}
