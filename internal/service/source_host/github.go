package source_host

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v68/github"

	"bugbot.app/relay/internal/service"
)

const githubService = "github"

type GitHubConfig struct {
	Token string
	// APIURL overrides https://api.github.com/, for GitHub Enterprise or tests.
	APIURL     string
	HTTPClient *http.Client
}

type gitHubHost struct {
	client *github.Client
}

func NewGitHub(cfg GitHubConfig) (Host, error) {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}

	client := github.NewClient(httpClient)
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}
	if cfg.APIURL != "" {
		base, err := url.Parse(strings.TrimSuffix(cfg.APIURL, "/") + "/")
		if err != nil {
			return nil, err
		}
		client.BaseURL = base
	}
	return &gitHubHost{client: client}, nil
}

func (g *gitHubHost) SearchCode(ctx context.Context, repo Repo, query string, limit int) ([]CodeMatch, error) {
	opts := &github.SearchOptions{}
	if limit > 0 {
		opts.PerPage = limit
	}

	result, resp, err := g.client.Search.Code(ctx, query+" repo:"+repo.FullName(), opts)
	if err != nil {
		return nil, githubError("search code", resp, err)
	}

	matches := make([]CodeMatch, 0, len(result.CodeResults))
	for _, item := range result.CodeResults {
		matches = append(matches, CodeMatch{Path: item.GetPath(), URL: item.GetHTMLURL()})
	}
	return matches, nil
}

func (g *gitHubHost) GetFile(ctx context.Context, repo Repo, path, ref string) (File, error) {
	file, _, resp, err := g.client.Repositories.GetContents(ctx, repo.Owner, repo.Name, path, &github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return File{}, githubError("get file", resp, err)
	}
	if file == nil {
		return File{}, service.NewUpstreamError(githubService, "get file", 0, "path is a directory", nil)
	}

	content, err := file.GetContent()
	if err != nil {
		return File{}, service.NewUpstreamError(githubService, "get file", 0, "unexpected response", err)
	}
	return File{Path: file.GetPath(), Content: content, SHA: file.GetSHA()}, nil
}

func (g *gitHubHost) CreateBranch(ctx context.Context, repo Repo, branch, baseRef string) error {
	base, resp, err := g.client.Git.GetRef(ctx, repo.Owner, repo.Name, "heads/"+baseRef)
	if err != nil {
		return githubError("get base ref", resp, err)
	}
	sha := base.GetObject().GetSHA()
	if sha == "" {
		return service.NewUpstreamError(githubService, "get base ref", 0, "unexpected response", nil)
	}

	_, resp, err = g.client.Git.CreateRef(ctx, repo.Owner, repo.Name, &github.Reference{
		Ref:    github.Ptr("refs/heads/" + branch),
		Object: &github.GitObject{SHA: github.Ptr(sha)},
	})
	if err != nil {
		return githubError("create branch", resp, err)
	}
	return nil
}

func (g *gitHubHost) UpdateFile(ctx context.Context, repo Repo, update FileUpdate) error {
	opts := &github.RepositoryContentFileOptions{
		Message: github.Ptr(update.Message),
		Content: []byte(update.Content),
		Branch:  github.Ptr(update.Branch),
	}
	if update.SHA != "" {
		opts.SHA = github.Ptr(update.SHA)
	}

	_, resp, err := g.client.Repositories.UpdateFile(ctx, repo.Owner, repo.Name, update.Path, opts)
	if err != nil {
		return githubError("update file", resp, err)
	}
	return nil
}

func (g *gitHubHost) OpenPullRequest(ctx context.Context, repo Repo, pr PullRequest) (string, error) {
	created, resp, err := g.client.PullRequests.Create(ctx, repo.Owner, repo.Name, &github.NewPullRequest{
		Title: github.Ptr(pr.Title),
		Body:  github.Ptr(pr.Body),
		Head:  github.Ptr(pr.Head),
		Base:  github.Ptr(pr.Base),
	})
	if err != nil {
		return "", githubError("open pull request", resp, err)
	}
	if created.GetHTMLURL() == "" {
		return "", service.NewUpstreamError(githubService, "open pull request", 0, "unexpected response", nil)
	}
	return created.GetHTMLURL(), nil
}

func githubError(op string, resp *github.Response, err error) error {
	status := 0
	if resp != nil && resp.Response != nil {
		status = resp.StatusCode
	}

	var errResp *github.ErrorResponse
	if errors.As(err, &errResp) {
		return service.NewUpstreamError(githubService, op, status, errResp.Message, nil)
	}
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return service.NewUpstreamError(githubService, op, status, "rate limited", nil)
	}
	return service.NewUpstreamError(githubService, op, status, "", err)
}
