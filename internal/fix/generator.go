package fix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bugbot.app/relay/common/llm"
	"bugbot.app/relay/internal/domain"
	"bugbot.app/relay/internal/pipeline"
	"bugbot.app/relay/internal/service"
	"bugbot.app/relay/internal/service/source_host"
)

var (
	ErrNoRepository   = errors.New("no repository configured")
	ErrNoRelevantCode = errors.New("no relevant files found")
	ErrNoChanges      = errors.New("model proposed no changes")
)

type Config struct {
	BaseBranch   string
	BranchPrefix string
	MaxKeywords  int
	MaxFiles     int
	MaxFileBytes int
	MaxTokens    int
	// RetryBackoff is the first pause between LLM retries.
	RetryBackoff time.Duration
}

// HostResolver picks the source host for a repository.
type HostResolver interface {
	For(repo source_host.Repo) (source_host.Host, error)
}

// Generator searches the repository for code related to the issue, asks the LLM for a
// patch, and opens a pull request with it.
type Generator struct {
	llm      llm.Client
	hosts    HostResolver
	keywords *KeywordsExtractor
	cfg      Config
}

func NewGenerator(client llm.Client, hosts HostResolver, cfg Config) *Generator {
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = "main"
	}
	if cfg.BranchPrefix == "" {
		cfg.BranchPrefix = "bugbot"
	}
	if cfg.MaxKeywords <= 0 {
		cfg.MaxKeywords = 5
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 3
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = 60_000
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	return &Generator{
		llm:      client,
		hosts:    hosts,
		keywords: NewKeywordsExtractor(client, cfg.RetryBackoff),
		cfg:      cfg,
	}
}

var _ pipeline.FixGenerator = (*Generator)(nil)

func (g *Generator) Generate(ctx context.Context, req pipeline.FixRequest) domain.FixResult {
	var result domain.FixResult

	prURL, branch, err := g.run(ctx, req)
	result.BranchName = branch
	if err != nil {
		slog.WarnContext(ctx, "fix generation failed", "error", err, "branch", branch)
		result.Error = service.UserMessage(err)
		return result
	}

	result.Success = true
	result.PRURL = prURL
	return result
}

func (g *Generator) run(ctx context.Context, req pipeline.FixRequest) (string, string, error) {
	if req.RepoURL == "" {
		return "", "", ErrNoRepository
	}
	repo, err := source_host.ParseRepoURL(req.RepoURL)
	if err != nil {
		return "", "", err
	}
	host, err := g.hosts.For(repo)
	if err != nil {
		return "", "", err
	}

	keywords, err := g.keywords.Extract(ctx, req.Issue, req.Report, g.cfg.MaxKeywords)
	if err != nil {
		return "", "", err
	}

	files, err := g.collectFiles(ctx, host, repo, keywords)
	if err != nil {
		return "", "", err
	}

	patch, err := g.proposePatch(ctx, req, files)
	if err != nil {
		return "", "", err
	}

	branch := branchName(g.cfg.BranchPrefix, req.Issue.Identifier, req.Issue.Title)
	if err := host.CreateBranch(ctx, repo, branch, g.cfg.BaseBranch); err != nil {
		return "", "", fmt.Errorf("creating branch: %w", err)
	}

	for _, change := range patch.Changes {
		if err := host.UpdateFile(ctx, repo, source_host.FileUpdate{
			Path:    change.Path,
			Content: change.Content,
			Message: commitMessage(req.Issue, change),
			Branch:  branch,
			SHA:     files[change.Path].SHA,
		}); err != nil {
			return "", branch, fmt.Errorf("committing %s: %w", change.Path, err)
		}
	}

	prURL, err := host.OpenPullRequest(ctx, repo, source_host.PullRequest{
		Title: fmt.Sprintf("Fix %s: %s", req.Issue.Identifier, req.Issue.Title),
		Body:  pullRequestBody(req.Issue, patch),
		Head:  branch,
		Base:  g.cfg.BaseBranch,
	})
	if err != nil {
		return "", branch, fmt.Errorf("opening pull request: %w", err)
	}

	slog.InfoContext(ctx, "fix pull request opened",
		"pr_url", prURL,
		"branch", branch,
		"files_changed", len(patch.Changes))

	return prURL, branch, nil
}

// collectFiles searches keyword by keyword until MaxFiles distinct files are fetched.
func (g *Generator) collectFiles(ctx context.Context, host source_host.Host, repo source_host.Repo, keywords []string) (map[string]source_host.File, error) {
	files := make(map[string]source_host.File)

	for _, kw := range keywords {
		if len(files) >= g.cfg.MaxFiles {
			break
		}
		matches, err := host.SearchCode(ctx, repo, kw, g.cfg.MaxFiles)
		if err != nil {
			return nil, fmt.Errorf("searching code for %q: %w", kw, err)
		}
		for _, m := range matches {
			if len(files) >= g.cfg.MaxFiles {
				break
			}
			if _, ok := files[m.Path]; ok {
				continue
			}
			file, err := host.GetFile(ctx, repo, m.Path, g.cfg.BaseBranch)
			if err != nil {
				return nil, fmt.Errorf("fetching %s: %w", m.Path, err)
			}
			if len(file.Content) > g.cfg.MaxFileBytes {
				slog.DebugContext(ctx, "skipping large file", "path", m.Path, "bytes", len(file.Content))
				continue
			}
			if file.Path == "" {
				file.Path = m.Path
			}
			files[m.Path] = file
		}
	}

	if len(files) == 0 {
		return nil, ErrNoRelevantCode
	}
	return files, nil
}

func commitMessage(issue domain.Issue, change FileChange) string {
	msg := fmt.Sprintf("fix(%s): update %s", issue.Identifier, change.Path)
	if change.Reason != "" {
		msg += "\n\n" + change.Reason
	}
	return msg
}

func pullRequestBody(issue domain.Issue, patch PatchResponse) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Automated fix for [%s](%s).\n\n", issue.Identifier, issue.URL)
	if patch.Summary != "" {
		sb.WriteString("## Summary\n")
		sb.WriteString(patch.Summary)
		sb.WriteString("\n\n")
	}
	sb.WriteString("## Changes\n")
	for _, c := range patch.Changes {
		fmt.Fprintf(&sb, "- `%s`", c.Path)
		if c.Reason != "" {
			sb.WriteString(": " + c.Reason)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n_Opened by @bugbot. Review carefully before merging._\n")
	return sb.String()
}
