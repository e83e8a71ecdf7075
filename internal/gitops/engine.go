package gitops

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/tagwatch/tagwatch/internal/config"
	"github.com/tagwatch/tagwatch/internal/logging"
	"github.com/tagwatch/tagwatch/internal/manifest"
	"github.com/tagwatch/tagwatch/internal/model"
	"github.com/tagwatch/tagwatch/internal/notifications"
)

const (
	tokenUsername = "x-access-token"
	pushTarget    = "refs/heads/main"
)

var ErrNoCommitHistory = fmt.Errorf("%w: repository has no commit history", model.ErrRemediation)

type cloneFunc func(ctx context.Context, path string, cfg config.GitopsConfig, auth transport.AuthMethod) (*git.Repository, error)

type pushFunc func(ctx context.Context, repo *git.Repository, refspec gitconfig.RefSpec, auth transport.AuthMethod) error

// Engine patches image references in a GitOps repository and pushes the
// result. Remediations run one at a time.
type Engine struct {
	mu        sync.Mutex
	cfg       *config.Config
	workspace string
	timeout   time.Duration
	notifier  notifications.Notifier

	clone cloneFunc
	push  pushFunc
	now   func() time.Time
}

func NewEngine(cfg *config.Config, notifier notifications.Notifier) *Engine {
	return &Engine{
		cfg:       cfg,
		workspace: cfg.GitopsWorkspace,
		timeout:   cfg.GitopsTimeout,
		notifier:  notifier,
		clone:     cloneRepository,
		push:      pushRepository,
		now:       time.Now,
	}
}

// Remediate runs the clone, patch, commit and push pipeline for w. A
// workload without a matching repository entry is a successful no-op.
func (e *Engine) Remediate(ctx context.Context, w model.Workload) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	log := logging.ForWorkload(w.Name, w.Namespace)
	result := Result{State: Idle}

	cfg, ok := e.cfg.GitopsByName(w.RepoName())
	if !ok {
		log.Infof("no gitops repository configured for %q, skipping remediation", w.RepoName())
		result.NoOp = true
		return result, nil
	}
	result.Repository = cfg.Name
	result.State = ConfigResolved
	token := os.Getenv(cfg.AccessTokenEnvName)
	auth := &githttp.BasicAuth{Username: tokenUsername, Password: token}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	workdir, err := e.prepareWorkspace(cfg.Name)
	if err != nil {
		return result, remediationError("prepare workspace", err)
	}
	defer func() {
		if err := os.RemoveAll(workdir); err != nil {
			log.Warnf("unable to remove workspace %s: %v", workdir, err)
		}
	}()
	result.State = WorkspacePrepared

	repoPath := filepath.Join(workdir, "repo")
	repo, err := e.openOrClone(ctx, repoPath, cfg, auth)
	if err != nil {
		return result, err
	}
	result.State = RepositoryReady

	head, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return result, ErrNoCommitHistory
		}
		return result, remediationError("resolve HEAD", err)
	}

	baseImage, err := manifest.BaseImage(w.Image)
	if err != nil {
		return result, remediationError("base image", err)
	}
	newImage := baseImage + ":" + w.LatestVersion
	log.Infof("replacing %s with %s", baseImage, newImage)

	changed, err := manifest.PatchDir(filepath.Join(repoPath, w.Directory()), baseImage, newImage)
	if err != nil {
		return result, remediationError("patch manifests", err)
	}
	result.ChangedFiles = changed
	result.State = FilesPatched

	worktree, err := repo.Worktree()
	if err != nil {
		return result, remediationError("worktree", err)
	}
	if err := worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return result, remediationError("stage changes", err)
	}
	result.State = Staged

	signature := &object.Signature{Name: cfg.CommitName, Email: cfg.CommitEmail, When: e.now()}
	hash, err := worktree.Commit(cfg.CommitMessage, &git.CommitOptions{
		Author:            signature,
		Committer:         signature,
		Parents:           []plumbing.Hash{head.Hash()},
		AllowEmptyCommits: true,
	})
	if err != nil {
		return result, remediationError("commit", err)
	}
	result.Commit = hash.String()
	result.State = Committed

	if cfg.Branch != "" && cfg.Branch != "main" {
		log.Warnf("pushing to main although repository %s is configured for branch %s", cfg.Name, cfg.Branch)
	}
	refspec := gitconfig.RefSpec(fmt.Sprintf("%s:%s", head.Name(), pushTarget))
	if err := e.push(ctx, repo, refspec, auth); err != nil {
		return result, remediationError("push", err)
	}
	result.State = Pushed
	log.Infof("pushed %s to %s", result.Commit, cfg.RepositoryURL)

	if e.notifier != nil {
		committed := w
		committed.CurrentVersion = w.LatestVersion
		if err := e.notifier.Notify(ctx, notifications.Committed, committed); err != nil {
			log.Errorf("unable to send commit notification: %v", err)
		}
	}
	result.State = Done
	return result, nil
}

func (e *Engine) prepareWorkspace(name string) (string, error) {
	if err := os.MkdirAll(e.workspace, 0o755); err != nil {
		return "", err
	}
	return os.MkdirTemp(e.workspace, name+"-*")
}

func (e *Engine) openOrClone(ctx context.Context, path string, cfg config.GitopsConfig, auth transport.AuthMethod) (*git.Repository, error) {
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, remediationError("open repository", err)
	}

	repo, err = e.clone(ctx, path, cfg, auth)
	if errors.Is(err, transport.ErrEmptyRemoteRepository) {
		return nil, ErrNoCommitHistory
	}
	if err != nil {
		return nil, remediationError("clone "+cfg.RepositoryURL, err)
	}
	return repo, nil
}

func cloneRepository(ctx context.Context, path string, cfg config.GitopsConfig, auth transport.AuthMethod) (*git.Repository, error) {
	opts := &git.CloneOptions{
		URL:  cfg.RepositoryURL,
		Auth: auth,
	}
	if cfg.Branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(cfg.Branch)
		opts.SingleBranch = true
	}
	return git.PlainCloneContext(ctx, path, false, opts)
}

func pushRepository(ctx context.Context, repo *git.Repository, refspec gitconfig.RefSpec, auth transport.AuthMethod) error {
	err := repo.PushContext(ctx, &git.PushOptions{
		RemoteName: git.DefaultRemoteName,
		RefSpecs:   []gitconfig.RefSpec{refspec},
		Auth:       auth,
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	return err
}

func remediationError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", model.ErrRemediation, op, err)
}
