package configrepo

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/pkg/errors"
)

// GitValuesSource is the supplemental local-values backend: instead of a
// flat key-value store, values come from a file inside a git checkout
// kept in sync with a remote branch. It is a standalone type: it does not
// implement Repository, and no CLI flag or Repository implementation
// constructs or consults it.
type GitValuesSource struct {
	repoURL string
	branch  string
	workDir string

	mu   sync.Mutex
	repo *git.Repository
}

func NewGitValuesSource(repoURL, branch, workDir string) *GitValuesSource {
	return &GitValuesSource{repoURL: repoURL, branch: branch, workDir: workDir}
}

// Load reads "<id>.yaml" from the checkout root, cloning or pulling first.
func (g *GitValuesSource) Load(ctx context.Context, id string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.sync(ctx); err != nil {
		return nil, errors.Wrap(err, "syncing values git repository")
	}

	path := filepath.Join(g.workDir, id+".yaml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, &ErrNoLocalValuesSource{ID: id}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading values file for %q", id)
	}
	return data, nil
}

func (g *GitValuesSource) sync(ctx context.Context) error {
	if g.repo == nil {
		return g.clone(ctx)
	}
	return g.pull(ctx)
}

func (g *GitValuesSource) clone(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(g.workDir), 0o755); err != nil {
		return errors.Wrap(err, "creating parent directory")
	}
	repo, err := git.PlainCloneContext(ctx, g.workDir, false, &git.CloneOptions{
		URL:           g.repoURL,
		ReferenceName: plumbing.NewBranchReferenceName(g.branch),
		SingleBranch:  true,
		Depth:         1,
	})
	if err != nil {
		return errors.Wrap(err, "cloning values repository")
	}
	g.repo = repo
	return nil
}

func (g *GitValuesSource) pull(ctx context.Context) error {
	wt, err := g.repo.Worktree()
	if err != nil {
		return errors.Wrap(err, "getting worktree")
	}
	err = wt.PullContext(ctx, &git.PullOptions{
		RemoteName:    "origin",
		ReferenceName: plumbing.NewBranchReferenceName(g.branch),
		SingleBranch:  true,
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return errors.Wrap(err, "pulling values repository")
	}
	return nil
}
