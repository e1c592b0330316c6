package source_host

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrInvalidRepoURL  = errors.New("invalid repository url")
	ErrUnsupportedHost = errors.New("unsupported source host")
)

// Repo identifies a repository on a source host.
type Repo struct {
	Host  string // e.g. "github.com"
	Owner string // owner or namespace path
	Name  string
}

// FullName is the "owner/name" path of the repository.
func (r Repo) FullName() string {
	return r.Owner + "/" + r.Name
}

type CodeMatch struct {
	Path string
	URL  string
}

type File struct {
	Path    string
	Content string
	// SHA is the blob sha (GitHub) or last commit id (GitLab) needed to update the file.
	SHA string
}

type FileUpdate struct {
	Path    string
	Content string
	Message string
	Branch  string
	SHA     string
}

type PullRequest struct {
	Title string
	Body  string
	Head  string
	Base  string
}

// Host is the source-code host surface the fix step needs.
type Host interface {
	SearchCode(ctx context.Context, repo Repo, query string, limit int) ([]CodeMatch, error)
	GetFile(ctx context.Context, repo Repo, path, ref string) (File, error)
	CreateBranch(ctx context.Context, repo Repo, branch, baseRef string) error
	UpdateFile(ctx context.Context, repo Repo, update FileUpdate) error
	OpenPullRequest(ctx context.Context, repo Repo, pr PullRequest) (string, error)
}

// ParseRepoURL parses "https://<host>/<owner...>/<name>[.git]".
func ParseRepoURL(raw string) (Repo, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return Repo{}, fmt.Errorf("%w: %q", ErrInvalidRepoURL, raw)
	}

	path := strings.Trim(strings.TrimSuffix(strings.Trim(u.Path, "/"), ".git"), "/")
	idx := strings.LastIndex(path, "/")
	if idx <= 0 || idx == len(path)-1 {
		return Repo{}, fmt.Errorf("%w: %q", ErrInvalidRepoURL, raw)
	}

	return Repo{
		Host:  strings.ToLower(u.Host),
		Owner: path[:idx],
		Name:  path[idx+1:],
	}, nil
}

// Registry picks the Host implementation for a repository.
type Registry struct {
	hosts map[string]Host
}

func NewRegistry() *Registry {
	return &Registry{hosts: make(map[string]Host)}
}

// Register binds hostname (e.g. "github.com") to h. A nil h is ignored.
func (r *Registry) Register(hostname string, h Host) {
	if h == nil || hostname == "" {
		return
	}
	r.hosts[strings.ToLower(hostname)] = h
}

func (r *Registry) For(repo Repo) (Host, error) {
	h, ok := r.hosts[repo.Host]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedHost, repo.Host)
	}
	return h, nil
}

// Hostname extracts the host part of a base URL, defaulting to fallback.
func Hostname(baseURL, fallback string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return fallback
	}
	return strings.ToLower(u.Host)
}
