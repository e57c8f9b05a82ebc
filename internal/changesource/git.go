package changesource

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/commitdelta/internal/config"
	"github.com/fyrsmithlabs/commitdelta/internal/logging"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/utils/merkletrie"
	"go.uber.org/zap"
)

// GitConfig configures a GitSource.
type GitConfig struct {
	// Path is the working tree or bare repository to read.
	Path string
	// Remote, when set, resolves refs/remotes/<Remote>/<branch> instead of
	// the local branch.
	Remote string
	// Fetch updates Remote before every ResolveHead.
	Fetch bool
	// Token authenticates fetches over HTTPS.
	Token config.Secret
	// ContentMode reads the full body of added and modified text files.
	ContentMode bool
}

// GitSource reads revisions from a local clone.
type GitSource struct {
	repo   *git.Repository
	cfg    GitConfig
	logger *logging.Logger
}

var _ Source = (*GitSource)(nil)

// NewGitSource opens the repository at cfg.Path.
func NewGitSource(cfg GitConfig, logger *logging.Logger) (*GitSource, error) {
	if cfg.Path == "" {
		return nil, errors.New("git repository path is required")
	}
	repo, err := git.PlainOpenWithOptions(cfg.Path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("opening git repository %s: %w", cfg.Path, err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &GitSource{repo: repo, cfg: cfg, logger: logger.Named("git")}, nil
}

func (s *GitSource) unavailable(ctx context.Context, op string, err error, fields ...zap.Field) {
	err = &TransientRemoteError{Op: op, Err: err}
	fields = append(fields, zap.String("path", s.cfg.Path), zap.Error(err))
	s.logger.Warn(ctx, "change source unavailable", fields...)
}

// ResolveHead returns the commit the branch ref points at.
func (s *GitSource) ResolveHead(ctx context.Context, branch string) (string, bool) {
	if s.cfg.Fetch && s.cfg.Remote != "" {
		opts := &git.FetchOptions{RemoteName: s.cfg.Remote}
		if s.cfg.Token.IsSet() {
			opts.Auth = &githttp.BasicAuth{Username: "x-access-token", Password: s.cfg.Token.Value()}
		}
		if err := s.repo.FetchContext(ctx, opts); err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			s.unavailable(ctx, "fetch", err, zap.String("remote", s.cfg.Remote))
			return "", false
		}
	}

	name := plumbing.NewBranchReferenceName(branch)
	if s.cfg.Remote != "" {
		name = plumbing.NewRemoteReferenceName(s.cfg.Remote, branch)
	}
	ref, err := s.repo.Reference(name, true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			s.logger.Info(ctx, "branch has no commits", zap.String("ref", name.String()))
		} else {
			s.unavailable(ctx, "resolve_head", err, zap.String("ref", name.String()))
		}
		return "", false
	}
	return ref.Hash().String(), true
}

func (s *GitSource) commit(rev string) (*object.Commit, error) {
	hash, err := s.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", rev, err)
	}
	return s.repo.CommitObject(*hash)
}

// Diff compares the trees of base and head with rename detection.
func (s *GitSource) Diff(ctx context.Context, base, head string) ([]ChangedEntry, bool) {
	entries, err := s.diff(ctx, base, head)
	if err != nil {
		s.unavailable(ctx, "diff", err, zap.String("base", base), zap.String("head", head))
		return nil, false
	}
	return entries, true
}

func (s *GitSource) diff(ctx context.Context, base, head string) ([]ChangedEntry, error) {
	baseCommit, err := s.commit(base)
	if err != nil {
		return nil, err
	}
	headCommit, err := s.commit(head)
	if err != nil {
		return nil, err
	}
	baseTree, err := baseCommit.Tree()
	if err != nil {
		return nil, err
	}
	headTree, err := headCommit.Tree()
	if err != nil {
		return nil, err
	}

	changes, err := object.DiffTreeWithOptions(ctx, baseTree, headTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return nil, fmt.Errorf("diffing trees: %w", err)
	}

	entries := make([]ChangedEntry, 0, len(changes))
	for _, change := range changes {
		entry, err := s.toEntry(ctx, change)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *GitSource) toEntry(ctx context.Context, change *object.Change) (ChangedEntry, error) {
	action, err := change.Action()
	if err != nil {
		return ChangedEntry{}, err
	}

	var entry ChangedEntry
	switch action {
	case merkletrie.Insert:
		entry.Filename, entry.Status = change.To.Name, StatusAdded
	case merkletrie.Delete:
		entry.Filename, entry.Status = change.From.Name, StatusRemoved
	default:
		entry.Filename, entry.Status = change.To.Name, StatusModified
		if change.From.Name != change.To.Name {
			entry.Status = StatusRenamed
			entry.PreviousFilename = change.From.Name
		}
	}

	patch, err := change.PatchContext(ctx)
	if err != nil {
		return ChangedEntry{}, fmt.Errorf("building patch for %s: %w", entry.Filename, err)
	}
	for _, stat := range patch.Stats() {
		entry.Additions += stat.Addition
		entry.Deletions += stat.Deletion
	}
	entry.Patch = patch.String()

	if s.cfg.ContentMode && (entry.Status == StatusAdded || entry.Status == StatusModified) {
		if f, err := change.To.Tree.File(change.To.Name); err == nil {
			if bin, err := f.IsBinary(); err == nil && !bin {
				if body, err := f.Contents(); err == nil {
					entry.Content = body
				}
			}
		}
	}
	return entry, nil
}

// Metadata reads message and author from the commit object.
func (s *GitSource) Metadata(ctx context.Context, revision string) (RevisionMetadata, bool) {
	c, err := s.commit(revision)
	if err != nil {
		s.unavailable(ctx, "metadata", err, zap.String("revision", revision))
		return RevisionMetadata{}, false
	}
	meta := RevisionMetadata{
		Revision:   c.Hash.String(),
		Message:    c.Message,
		Author:     c.Author.Name,
		AuthoredAt: c.Author.When,
	}
	if meta.Author == "" {
		meta.Author = UnknownAuthor
	}
	return meta, true
}
