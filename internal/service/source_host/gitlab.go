package source_host

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"bugbot.app/relay/internal/service"
)

const gitlabService = "gitlab"

type GitLabConfig struct {
	Token      string
	BaseURL    string
	HTTPClient *http.Client
}

type gitLabHost struct {
	client *gitlab.Client
}

func NewGitLab(cfg GitLabConfig) (Host, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://gitlab.com"
	}
	opts := []gitlab.ClientOptionFunc{
		gitlab.WithBaseURL(strings.TrimSuffix(baseURL, "/") + "/api/v4"),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, gitlab.WithHTTPClient(cfg.HTTPClient))
	}

	client, err := gitlab.NewClient(cfg.Token, opts...)
	if err != nil {
		return nil, err
	}
	return &gitLabHost{client: client}, nil
}

func (g *gitLabHost) SearchCode(ctx context.Context, repo Repo, query string, limit int) ([]CodeMatch, error) {
	blobs, resp, err := g.client.Search.BlobsByProject(repo.FullName(), query, &gitlab.SearchOptions{}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, upstream("search code", resp, err)
	}

	seen := make(map[string]bool)
	matches := make([]CodeMatch, 0, len(blobs))
	for _, b := range blobs {
		if b == nil || seen[b.Path] {
			continue
		}
		seen[b.Path] = true
		matches = append(matches, CodeMatch{Path: b.Path})
		if limit > 0 && len(matches) == limit {
			break
		}
	}
	return matches, nil
}

func (g *gitLabHost) GetFile(ctx context.Context, repo Repo, path, ref string) (File, error) {
	file, resp, err := g.client.RepositoryFiles.GetFile(repo.FullName(), path, &gitlab.GetFileOptions{
		Ref: gitlab.Ptr(ref),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return File{}, upstream("get file", resp, err)
	}

	content := file.Content
	if file.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(file.Content)
		if err != nil {
			return File{}, service.NewUpstreamError(gitlabService, "get file", 0, "unexpected response", err)
		}
		content = string(decoded)
	}

	return File{Path: file.FilePath, Content: content, SHA: file.LastCommitID}, nil
}

func (g *gitLabHost) CreateBranch(ctx context.Context, repo Repo, branch, baseRef string) error {
	_, resp, err := g.client.Branches.CreateBranch(repo.FullName(), &gitlab.CreateBranchOptions{
		Branch: gitlab.Ptr(branch),
		Ref:    gitlab.Ptr(baseRef),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return upstream("create branch", resp, err)
	}
	return nil
}

func (g *gitLabHost) UpdateFile(ctx context.Context, repo Repo, update FileUpdate) error {
	opts := &gitlab.UpdateFileOptions{
		Branch:        gitlab.Ptr(update.Branch),
		Content:       gitlab.Ptr(update.Content),
		CommitMessage: gitlab.Ptr(update.Message),
	}
	if update.SHA != "" {
		opts.LastCommitID = gitlab.Ptr(update.SHA)
	}

	_, resp, err := g.client.RepositoryFiles.UpdateFile(repo.FullName(), update.Path, opts, gitlab.WithContext(ctx))
	if err != nil {
		return upstream("update file", resp, err)
	}
	return nil
}

func (g *gitLabHost) OpenPullRequest(ctx context.Context, repo Repo, pr PullRequest) (string, error) {
	mr, resp, err := g.client.MergeRequests.CreateMergeRequest(repo.FullName(), &gitlab.CreateMergeRequestOptions{
		Title:        gitlab.Ptr(pr.Title),
		Description:  gitlab.Ptr(pr.Body),
		SourceBranch: gitlab.Ptr(pr.Head),
		TargetBranch: gitlab.Ptr(pr.Base),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return "", upstream("open merge request", resp, err)
	}
	if mr.WebURL == "" {
		return "", service.NewUpstreamError(gitlabService, "open merge request", 0, "unexpected response", nil)
	}
	return mr.WebURL, nil
}

func upstream(op string, resp *gitlab.Response, err error) error {
	status := 0
	if resp != nil && resp.Response != nil {
		status = resp.StatusCode
	}
	var errResp *gitlab.ErrorResponse
	if errors.As(err, &errResp) {
		return service.NewUpstreamError(gitlabService, op, status, errResp.Message, nil)
	}
	return service.NewUpstreamError(gitlabService, op, status, "", err)
}
