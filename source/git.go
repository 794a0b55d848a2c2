// Package source checks out plugin sources with go-git.
package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5/osfs"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/sirupsen/logrus"

	"github.com/mumoshu/mtenv/errdefs"
)

// Client clones a repository at a reference.
type Client interface {
	Clone(ctx context.Context, remoteURL, dest string, ref Reference) error
}

// GitClient is a Client backed by go-git.
type GitClient struct {
	// Auth is used for every remote operation. Nil means anonymous.
	Auth transport.AuthMethod

	Log logrus.FieldLogger
}

var _ Client = &GitClient{}

func NewGitClient(log logrus.FieldLogger) *GitClient {
	return &GitClient{Log: log}
}

// Clone clones remoteURL into dest and checks out ref.
// A reference that cannot be resolved fails with InvalidGitReference.
func (g *GitClient) Clone(ctx context.Context, remoteURL, dest string, ref Reference) error {
	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}

	g.log().WithFields(logrus.Fields{"url": remoteURL, "ref": ref.String(), "dest": dest}).Info("cloning")

	opts := &git.CloneOptions{
		URL:  remoteURL,
		Auth: g.Auth,
	}

	switch ref.Kind {
	case KindBranch:
		opts.ReferenceName = plumbing.NewBranchReferenceName(ref.Value)
		opts.SingleBranch = true
	case KindTag:
		opts.ReferenceName = plumbing.NewTagReferenceName(ref.Value)
		opts.SingleBranch = true
	case KindCommit, KindPullRequest:
	default:
		return errdefs.New(errdefs.KindInvalidGitReference, ref.String())
	}

	wt := osfs.New(dest)
	dot := osfs.New(filepath.Join(dest, git.GitDirName))
	storer := filesystem.NewStorage(dot, cache.NewObjectLRUDefault())

	repo, err := git.CloneContext(ctx, storer, wt, opts)
	if err != nil {
		return classify(ref, fmt.Errorf("unable to clone %s: %w", remoteURL, err))
	}

	switch ref.Kind {
	case KindCommit:
		return g.checkoutRevision(repo, ref, plumbing.Revision(ref.Value))
	case KindPullRequest:
		if err := g.fetchPullRequest(ctx, repo, ref); err != nil {
			return err
		}
		return g.checkoutRevision(repo, ref, plumbing.Revision(pullRequestRemoteRef(ref.Value)))
	}

	return nil
}

// fetchPullRequest fetches the head of a pull request using the GitHub
// refs/pull/<n>/head convention.
func (g *GitClient) fetchPullRequest(ctx context.Context, repo *git.Repository, ref Reference) error {
	spec := config.RefSpec(fmt.Sprintf("+refs/pull/%s/head:%s", ref.Value, pullRequestRemoteRef(ref.Value)))

	err := repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: git.DefaultRemoteName,
		RefSpecs:   []config.RefSpec{spec},
		Auth:       g.Auth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return classify(ref, fmt.Errorf("unable to fetch %s: %w", spec, err))
	}

	return nil
}

func (g *GitClient) checkoutRevision(repo *git.Repository, ref Reference, rev plumbing.Revision) error {
	hash, err := repo.ResolveRevision(rev)
	if err != nil {
		return errdefs.Wrap(errdefs.KindInvalidGitReference, ref.String(), fmt.Errorf("unable to resolve %s: %w", rev, err))
	}

	w, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("unable to get worktree: %w", err)
	}

	if err := w.Checkout(&git.CheckoutOptions{Hash: *hash, Force: true}); err != nil {
		return fmt.Errorf("unable to checkout %s: %w", hash, err)
	}

	g.log().Debugf("checked out %s at %s", ref, hash)

	return nil
}

// classify reports err as InvalidGitReference when the remote was reached
// but does not have ref. Transport and auth failures are returned as is.
func classify(ref Reference, err error) error {
	var noMatch git.NoMatchingRefSpecError

	if errors.Is(err, plumbing.ErrReferenceNotFound) ||
		errors.Is(err, git.ErrBranchNotFound) ||
		errors.As(err, &noMatch) {
		return errdefs.Wrap(errdefs.KindInvalidGitReference, ref.String(), err)
	}

	return err
}

func (g *GitClient) log() logrus.FieldLogger {
	if g.Log == nil {
		return logrus.StandardLogger()
	}
	return g.Log
}

func pullRequestRemoteRef(n string) string {
	return "refs/remotes/" + git.DefaultRemoteName + "/pr/" + n
}
