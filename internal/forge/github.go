// Package forge reads public GitHub data for the github_* tools. It is
// read-only: no issue, comment or repository writes.
package forge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	gogithub "github.com/google/go-github/v69/github"

	"github.com/nugget/hearth/internal/tools"
)

// GitHub implements [tools.CodeHost].
type GitHub struct {
	client *gogithub.Client
	logger *slog.Logger
}

// NewGitHub builds a client. token may be empty for anonymous access;
// baseURL is only set for GitHub Enterprise or tests.
func NewGitHub(httpClient *http.Client, token, baseURL string, logger *slog.Logger) (*GitHub, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := gogithub.NewClient(httpClient)
	if token != "" {
		c = c.WithAuthToken(token)
	}
	if baseURL != "" {
		var err error
		c, err = c.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("forge: base url: %w", err)
		}
	}
	return &GitHub{client: c, logger: logger.With("component", "forge")}, nil
}

// checkRateLimit warns when the remaining quota runs low. Anonymous
// access only gets 60 requests an hour.
func (g *GitHub) checkRateLimit(resp *gogithub.Response) {
	if resp == nil {
		return
	}
	if resp.Rate.Remaining < 10 {
		g.logger.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset", resp.Rate.Reset.Time,
		)
	}
}

// wrap turns go-github errors into short messages for tool results.
func wrap(op string, err error) error {
	var rl *gogithub.RateLimitError
	if errors.As(err, &rl) {
		return fmt.Errorf("github rate limit exceeded, resets at %s", rl.Rate.Reset.Format("15:04 MST"))
	}
	var er *gogithub.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		if er.Response.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%s: not found", op)
		}
		return fmt.Errorf("%s: github %d: %s", op, er.Response.StatusCode, er.Message)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (g *GitHub) Repo(ctx context.Context, owner, name string) (tools.RepoInfo, error) {
	r, resp, err := g.client.Repositories.Get(ctx, owner, name)
	if err != nil {
		return tools.RepoInfo{}, wrap("get repo", err)
	}
	g.checkRateLimit(resp)
	return tools.RepoInfo{
		FullName:      r.GetFullName(),
		Description:   r.GetDescription(),
		URL:           r.GetHTMLURL(),
		DefaultBranch: r.GetDefaultBranch(),
		Language:      r.GetLanguage(),
		Stars:         r.GetStargazersCount(),
		Forks:         r.GetForksCount(),
		OpenIssues:    r.GetOpenIssuesCount(),
		Archived:      r.GetArchived(),
		Topics:        r.Topics,
	}, nil
}

func (g *GitHub) Issue(ctx context.Context, owner, name string, number int) (tools.IssueInfo, error) {
	i, resp, err := g.client.Issues.Get(ctx, owner, name, number)
	if err != nil {
		return tools.IssueInfo{}, wrap("get issue", err)
	}
	g.checkRateLimit(resp)
	return tools.IssueInfo{
		Number: i.GetNumber(),
		Title:  i.GetTitle(),
		State:  i.GetState(),
		Author: i.GetUser().GetLogin(),
		URL:    i.GetHTMLURL(),
		Body:   i.GetBody(),
	}, nil
}

func (g *GitHub) PullRequest(ctx context.Context, owner, name string, number int) (tools.IssueInfo, error) {
	pr, resp, err := g.client.PullRequests.Get(ctx, owner, name, number)
	if err != nil {
		return tools.IssueInfo{}, wrap("get pull request", err)
	}
	g.checkRateLimit(resp)
	return tools.IssueInfo{
		Number: pr.GetNumber(),
		Title:  pr.GetTitle(),
		State:  pr.GetState(),
		Author: pr.GetUser().GetLogin(),
		URL:    pr.GetHTMLURL(),
		Body:   pr.GetBody(),
		Merged: pr.GetMerged(),
	}, nil
}

// File returns a file's decoded content or, for a directory, its entry
// names (directories suffixed with "/").
func (g *GitHub) File(ctx context.Context, owner, name, path, ref string) (tools.RepoFile, error) {
	var opts *gogithub.RepositoryContentGetOptions
	if ref != "" {
		opts = &gogithub.RepositoryContentGetOptions{Ref: ref}
	}
	file, dir, resp, err := g.client.Repositories.GetContents(ctx, owner, name, path, opts)
	if err != nil {
		return tools.RepoFile{}, wrap("get contents", err)
	}
	g.checkRateLimit(resp)

	if file == nil {
		entries := make([]string, 0, len(dir))
		for _, e := range dir {
			n := e.GetName()
			if e.GetType() == "dir" {
				n += "/"
			}
			entries = append(entries, n)
		}
		p := path
		if p == "" {
			p = "."
		}
		return tools.RepoFile{Path: p, Entries: entries}, nil
	}

	content, err := decodeContent(file)
	if err != nil {
		return tools.RepoFile{}, err
	}
	return tools.RepoFile{Path: file.GetPath(), Content: content, Size: file.GetSize()}, nil
}

// decodeContent handles the base64 and plain encodings. Files over 1 MB
// come back with encoding "none" and no content.
func decodeContent(f *gogithub.RepositoryContent) (string, error) {
	s, err := f.GetContent()
	if err != nil {
		return "", fmt.Errorf("read %s: %w", f.GetPath(), err)
	}
	return s, nil
}
