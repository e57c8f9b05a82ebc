package changesource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fyrsmithlabs/commitdelta/internal/config"
	"github.com/fyrsmithlabs/commitdelta/internal/logging"
	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// maxCompareFiles is the most files the compare endpoint returns for one
// comparison, across all pages.
const maxCompareFiles = 300

// comparePageSize is the commits per compare page.
const comparePageSize = 100

// GitHubConfig configures a GitHubSource.
type GitHubConfig struct {
	// BaseURL overrides https://api.github.com/ (GitHub Enterprise, tests).
	BaseURL string
	Owner   string
	Repo    string
	Token   config.Secret

	// Timeout bounds every individual HTTP attempt. Default: 30s
	Timeout time.Duration
	Retry   RetryConfig

	// ContentMode fetches the full body of added and modified files at head.
	ContentMode bool
}

// GitHubSource reads commits and comparisons from the GitHub REST API.
type GitHubSource struct {
	client  *github.Client
	owner   string
	repo    string
	timeout time.Duration
	retry   RetryConfig
	content bool
	logger  *logging.Logger
}

var _ Source = (*GitHubSource)(nil)

// NewGitHubClient creates a GitHub client authenticated with a bearer token.
// An unset token yields an anonymous client, which only works for public
// repositories and has a much lower rate limit.
func NewGitHubClient(ctx context.Context, token config.Secret, baseURL string) (*github.Client, error) {
	httpClient := http.DefaultClient
	if token.IsSet() {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value()})
		httpClient = oauth2.NewClient(ctx, ts)
	}
	client := github.NewClient(httpClient)

	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid github base url %q: %w", baseURL, err)
		}
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		client.BaseURL = u
	}
	return client, nil
}

// NewGitHubSource builds a source for one repository.
func NewGitHubSource(ctx context.Context, cfg GitHubConfig, logger *logging.Logger) (*GitHubSource, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, errors.New("github owner and repo are required")
	}
	client, err := NewGitHubClient(ctx, cfg.Token, cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if !cfg.Token.IsSet() {
		logger.Warn(ctx, "no GitHub token configured, using anonymous access",
			zap.String("repo", cfg.Owner+"/"+cfg.Repo))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retry := cfg.Retry
	retry.ApplyDefaults()

	return &GitHubSource{
		client:  client,
		owner:   cfg.Owner,
		repo:    cfg.Repo,
		timeout: timeout,
		retry:   retry,
		content: cfg.ContentMode,
		logger:  logger.Named("github"),
	}, nil
}

// call runs fn with a per-attempt timeout under the retry policy.
func (s *GitHubSource) call(ctx context.Context, op string, fn func(context.Context) (*github.Response, error)) error {
	retry := s.retry
	resp, err := retryGitHubOperation(ctx, &retry, s.logger, func() (*github.Response, error) {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return fn(callCtx)
	})
	if err != nil {
		return &TransientRemoteError{Op: op, StatusCode: getStatusCode(resp), Err: err}
	}
	return nil
}

func (s *GitHubSource) unavailable(ctx context.Context, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("repo", s.owner+"/"+s.repo), zap.Error(err))
	s.logger.Warn(ctx, "change source unavailable", fields...)
}

// ResolveHead returns the newest commit on branch
// (GET /repos/{owner}/{repo}/commits?sha={branch}&per_page=1).
func (s *GitHubSource) ResolveHead(ctx context.Context, branch string) (string, bool) {
	var commits []*github.RepositoryCommit
	err := s.call(ctx, "resolve_head", func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		commits, resp, err = s.client.Repositories.ListCommits(ctx, s.owner, s.repo, &github.CommitsListOptions{
			SHA:         branch,
			ListOptions: github.ListOptions{PerPage: 1},
		})
		return resp, err
	})
	if err != nil {
		s.unavailable(ctx, err, zap.String("branch", branch))
		return "", false
	}
	if len(commits) == 0 || commits[0].GetSHA() == "" {
		s.logger.Info(ctx, "branch has no commits", zap.String("branch", branch))
		return "", false
	}
	return commits[0].GetSHA(), true
}

// Diff returns the changed files between base and head
// (GET /repos/{owner}/{repo}/compare/{base}...{head}), following every page
// and merging files by name. A comparison GitHub truncated at
// maxCompareFiles is reported absent: indexing part of it would advance the
// pointer past files that were never seen.
func (s *GitHubSource) Diff(ctx context.Context, base, head string) ([]ChangedEntry, bool) {
	var (
		files  []*github.CommitFile
		seen   = map[string]int{}
		status string
	)
	for page := 1; page != 0; {
		var cmp *github.CommitsComparison
		var resp *github.Response
		err := s.call(ctx, "diff", func(ctx context.Context) (*github.Response, error) {
			var err error
			cmp, resp, err = s.client.Repositories.CompareCommits(ctx, s.owner, s.repo, base, head,
				&github.ListOptions{Page: page, PerPage: comparePageSize})
			return resp, err
		})
		if err != nil {
			s.unavailable(ctx, err, zap.String("base", base), zap.String("head", head), zap.Int("page", page))
			return nil, false
		}
		if status == "" {
			status = cmp.GetStatus()
		}
		for _, f := range cmp.Files {
			if i, ok := seen[f.GetFilename()]; ok {
				files[i] = f
				continue
			}
			seen[f.GetFilename()] = len(files)
			files = append(files, f)
		}
		page = resp.NextPage
	}

	if status == "diverged" || status == "behind" {
		s.logger.Warn(ctx, "tracked revision is not an ancestor of head, indexing the comparison as returned",
			zap.String("compare_status", status),
			zap.String("base", base),
			zap.String("head", head))
	}
	if len(files) >= maxCompareFiles {
		s.logger.Error(ctx, "comparison is truncated by the GitHub API, use the git source for this delta",
			zap.Int("files", len(files)),
			zap.String("base", base),
			zap.String("head", head))
		return nil, false
	}

	entries := make([]ChangedEntry, 0, len(files))
	for _, f := range files {
		status, err := ParseStatus(f.GetStatus())
		if err != nil {
			s.logger.Warn(ctx, "skipping file with unknown status",
				zap.String("filename", f.GetFilename()), zap.Error(err))
			continue
		}
		entries = append(entries, ChangedEntry{
			Filename:         f.GetFilename(),
			PreviousFilename: f.GetPreviousFilename(),
			Status:           status,
			Additions:        f.GetAdditions(),
			Deletions:        f.GetDeletions(),
			Patch:            f.GetPatch(),
		})
	}

	if s.content {
		s.fillContent(ctx, head, entries)
	}
	return entries, true
}

// fillContent fetches file bodies at head for added and modified entries.
// A failed fetch leaves Content empty; the patch is still indexed.
func (s *GitHubSource) fillContent(ctx context.Context, head string, entries []ChangedEntry) {
	for i := range entries {
		e := &entries[i]
		if e.Status != StatusAdded && e.Status != StatusModified {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		var fc *github.RepositoryContent
		err := s.call(ctx, "content", func(ctx context.Context) (*github.Response, error) {
			var resp *github.Response
			var err error
			fc, _, resp, err = s.client.Repositories.GetContents(ctx, s.owner, s.repo, e.Filename,
				&github.RepositoryContentGetOptions{Ref: head})
			return resp, err
		})
		if err != nil {
			s.logger.Warn(ctx, "file content unavailable", zap.String("filename", e.Filename), zap.Error(err))
			continue
		}
		if fc == nil {
			continue
		}
		body, err := fc.GetContent()
		if err != nil {
			s.logger.Warn(ctx, "file content could not be decoded", zap.String("filename", e.Filename), zap.Error(err))
			continue
		}
		e.Content = body
	}
}

// Metadata returns message and author of revision
// (GET /repos/{owner}/{repo}/commits/{sha}).
func (s *GitHubSource) Metadata(ctx context.Context, revision string) (RevisionMetadata, bool) {
	var rc *github.RepositoryCommit
	err := s.call(ctx, "metadata", func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		rc, resp, err = s.client.Repositories.GetCommit(ctx, s.owner, s.repo, revision, nil)
		return resp, err
	})
	if err != nil {
		s.unavailable(ctx, err, zap.String("revision", revision))
		return RevisionMetadata{}, false
	}

	commit := rc.GetCommit()
	meta := RevisionMetadata{
		Revision: rc.GetSHA(),
		Message:  commit.GetMessage(),
		Author:   commit.GetAuthor().GetName(),
	}
	if meta.Revision == "" {
		meta.Revision = revision
	}
	if meta.Author == "" {
		meta.Author = UnknownAuthor
	}
	if d := commit.GetAuthor().GetDate(); !d.IsZero() {
		meta.AuthoredAt = d.Time
	} else if d := commit.GetCommitter().GetDate(); !d.IsZero() {
		meta.AuthoredAt = d.Time
	}
	return meta, true
}
