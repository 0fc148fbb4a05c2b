// Package syncpipe implements the central component sync algorithm
// (spec.md §4.6): clone the destination, fetch the upstream build
// revision, reconcile histories (merge or pull), reconcile the lookaside
// cache, and push.
package syncpipe

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/fedora-infra/distrobaker"
	"github.com/fedora-infra/distrobaker/internal/config"
	"github.com/fedora-infra/distrobaker/internal/gitrepo"
	"github.com/fedora-infra/distrobaker/internal/lookaside"
	"github.com/fedora-infra/distrobaker/internal/scmurl"
	"github.com/fedora-infra/distrobaker/internal/sources"
	"github.com/google/renameio"
	"golang.org/x/xerrors"
)

const branchNameLetters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

func randomBranchName() string {
	b := make([]byte, 16)
	for i := range b {
		b[i] = branchNameLetters[rand.Intn(len(branchNameLetters))]
	}
	return string(b)
}

// Sync runs the full reconciliation algorithm for one component and
// returns the pushed destination HEAD revision. A non-nil error means the
// sync aborted at some step; the caller (the dispatcher) must treat that
// exactly like the spec's "null" result and move on to the next
// component (spec.md §7 propagation rule) - it must never push partial
// work.
func Sync(ctx context.Context, logger *log.Logger, cfg *config.Configuration, opts distrobaker.Options, ns config.NS, comp string, buildScmurl string) (string, error) {
	if cfg.Main.Control.Exclude.Has(ns, comp) {
		logger.Printf("%s/%s is excluded, skipping", ns, comp)
		return "", nil
	}

	bscm := scmurl.Split(buildScmurl)
	if bscm.Ref == nil {
		return "", xerrors.Errorf("build scmurl %q has no ref", buildScmurl)
	}

	c := cfg.Resolve(ns, comp)
	sscm := scmurl.Split(c.Source)
	dscm := scmurl.Split(c.Destination)
	dref := dscm.RefOr("master")

	dir, err := distrobaker.NewScratchDir("distrobaker-sync-")
	if err != nil {
		return "", err
	}
	defer dir.Release()
	clonePath := filepath.Join(dir.Path, "repo")

	logger.Printf("syncing %s/%s from %s to %s", ns, comp, sscm.Link, dscm.Link)

	var repo *gitrepo.Repo
	err = distrobaker.Retry(ctx, opts.Retry, func(attempt int) error {
		if attempt > 1 {
			if err := os.RemoveAll(clonePath); err != nil {
				return err
			}
		}
		r, err := gitrepo.Clone(ctx, dscm.Link, dref, clonePath)
		if err != nil {
			return err
		}
		repo = r
		return nil
	}, func(attempt int, err error) {
		logger.Printf("failed to clone %s, retrying (#%d): %v", dscm.Link, attempt, err)
	})
	if err != nil {
		logger.Printf("failed to clone %s, aborting: %v", dscm.Link, err)
		return "", err
	}

	if err := repo.AddRemote(ctx, "source", sscm.Link); err != nil {
		return "", err
	}
	err = distrobaker.Retry(ctx, opts.Retry, func(attempt int) error {
		return repo.FetchRef(ctx, "source", sscm.RefOr(""))
	}, func(attempt int, err error) {
		logger.Printf("failed to fetch %s, retrying (#%d): %v", sscm.Link, attempt, err)
	})
	if err != nil {
		logger.Printf("failed to fetch %s, aborting: %v", sscm.Link, err)
		return "", err
	}

	if err := repo.ConfigureIdentity(ctx, cfg.Main.Git.Author, cfg.Main.Git.Email); err != nil {
		return "", err
	}

	destSources, err := sources.Parse(logger, string(ns), comp, filepath.Join(clonePath, "sources"))
	if err != nil {
		return "", xerrors.Errorf("parsing destination sources: %w", err)
	}
	if destSources == nil {
		return "", xerrors.New("parsing destination sources: malformed manifest")
	}

	if cfg.Main.Control.Merge {
		if err := reconcileMerge(ctx, logger, opts, repo, bscm, dscm, dref, sscm, cfg.Main.Git); err != nil {
			return "", err
		}
	} else {
		if err := reconcilePull(ctx, logger, repo, bscm, dref); err != nil {
			return "", err
		}
	}

	srcSources, err := sources.Parse(logger, string(ns), comp, filepath.Join(clonePath, "sources"))
	if err != nil {
		return "", xerrors.Errorf("parsing source sources: %w", err)
	}
	if srcSources == nil {
		return "", xerrors.New("parsing source sources: malformed manifest")
	}

	missing := sources.Diff(srcSources, destSources)
	if len(missing) > 0 {
		srcCache := &lookaside.Cache{
			Name: "source", URL: cfg.Main.Source.Cache.URL, CGI: cfg.Main.Source.Cache.CGI, Path: cfg.Main.Source.Cache.Path,
			Dir: fmt.Sprintf("%s/%s", ns, c.Cache.Source),
		}
		dstCache := &lookaside.Cache{
			Name: "destination", URL: cfg.Main.Destination.Cache.URL, CGI: cfg.Main.Destination.Cache.CGI, Path: cfg.Main.Destination.Cache.Path,
			Dir: fmt.Sprintf("%s/%s", ns, c.Cache.Destination),
		}
		n, err := lookaside.Reconcile(ctx, logger, opts, srcCache, dstCache, missing)
		if err != nil {
			logger.Printf("lookaside cache reconciliation failed after %d entries: %v", n, err)
			return "", err
		}
	}

	err = distrobaker.Retry(ctx, opts.Retry, func(attempt int) error {
		return repo.Push(ctx, dref, opts.DryRun)
	}, func(attempt int, err error) {
		logger.Printf("failed to push, retrying (#%d): %v", attempt, err)
	})
	if err != nil {
		logger.Printf("failed to push, aborting: %v", err)
		return "", err
	}

	head, err := repo.RevParseHEAD(ctx)
	if err != nil {
		return "", err
	}
	logger.Printf("synced %s/%s to %s", ns, comp, head)
	return head, nil
}

func reconcileMerge(ctx context.Context, logger *log.Logger, opts distrobaker.Options, repo *gitrepo.Repo, bscm, dscm scmurl.URL, dref string, sscm scmurl.URL, git config.Git) error {
	var branch string
	err := distrobaker.Retry(ctx, opts.Retry, func(attempt int) error {
		b := randomBranchName()
		if repo.RevParseQuiet(ctx, b) {
			return xerrors.Errorf("branch name %s already taken", b)
		}
		branch = b
		return nil
	}, func(attempt int, err error) {
		logger.Printf("failed to pick a free branch name, retrying (#%d): %v", attempt, err)
	})
	if err != nil {
		return xerrors.Errorf("could not find a free temporary branch name: %w", err)
	}

	if err := repo.Checkout(ctx, *bscm.Ref); err != nil {
		return xerrors.Errorf("checking out build revision %s: %w", *bscm.Ref, err)
	}
	if err := repo.SwitchNew(ctx, branch); err != nil {
		return err
	}
	if err := repo.MergeOursNoCommit(ctx, dref); err != nil {
		return xerrors.Errorf("merging %s with strategy ours: %w", dref, err)
	}
	actor := fmt.Sprintf("%s <%s>", git.Author, git.Email)
	if err := repo.CommitAllowEmpty(ctx, actor, "Temporary working tree merge"); err != nil {
		return err
	}

	if err := repo.Checkout(ctx, dref); err != nil {
		return err
	}
	if err := repo.SquashMergeNoCommit(ctx, branch); err != nil {
		return xerrors.Errorf("squash-merging %s: %w", branch, err)
	}

	msgFile, err := distrobaker.NewScratchDir("distrobaker-commitmsg-")
	if err != nil {
		return err
	}
	defer msgFile.Release()
	path := filepath.Join(msgFile.Path, "message")
	message := fmt.Sprintf("%s\nSource: %s#%s", git.Message, sscm.Link, *bscm.Ref)
	// Written via renameio rather than an in-place write so a reader (git,
	// via -F) never observes a partially-written file - the commit message
	// must preserve exact bytes (spec.md §4.6 step 7).
	if err := renameio.WriteFile(path, []byte(message), 0o644); err != nil {
		return err
	}
	if err := repo.CommitAllowEmptyFromFile(ctx, actor, path); err != nil {
		return err
	}
	return nil
}

func reconcilePull(ctx context.Context, logger *log.Logger, repo *gitrepo.Repo, bscm scmurl.URL, dref string) error {
	if err := repo.Checkout(ctx, dref); err != nil {
		return err
	}
	if err := repo.PullFFOnly(ctx, "source", *bscm.Ref); err != nil {
		if gitrepo.Unrelated(err) {
			logger.Printf("refusing to merge unrelated histories")
		}
		return xerrors.Errorf("pull mode fast-forward failed: %w", err)
	}
	return nil
}
