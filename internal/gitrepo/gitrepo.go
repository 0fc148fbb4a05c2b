// Package gitrepo is a thin exec.CommandContext wrapper around the git CLI.
// Git itself is an out-of-scope external collaborator (spec.md §1); this
// package exists only to give the sync pipeline (spec.md §4.6) a small,
// testable surface, in the same style the teacher repo itself uses to shell
// out to git (cmd/autobuilder.go: "git clone ...", "git reset --hard ...").
package gitrepo

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"golang.org/x/xerrors"
)

// Repo is a git working tree rooted at Dir.
type Repo struct {
	Dir string
}

// run executes git with the given arguments inside the repo, returning
// combined stdout+stderr on error for diagnostics.
func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.Dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), xerrors.Errorf("git %s: %w: %s", strings.Join(args, " "), err, out.String())
	}
	return out.String(), nil
}

// Clone shallow-clones link at branch into dir and returns the resulting
// Repo. A single attempt; callers retry via distrobaker.Retry (spec.md
// §4.6 step 3).
func Clone(ctx context.Context, link, branch, dir string) (*Repo, error) {
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth=1", "--branch", branch, link, dir)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return nil, xerrors.Errorf("git clone %s#%s: %w: %s", link, branch, err, out.String())
	}
	return &Repo{Dir: dir}, nil
}

// AddRemote adds a remote named name pointing at link.
func (r *Repo) AddRemote(ctx context.Context, name, link string) error {
	_, err := r.run(ctx, "remote", "add", name, link)
	return err
}

// FetchRef fetches a single ref from remote. If ref is empty, fetches all
// refs (spec.md §4.6 step 4).
func (r *Repo) FetchRef(ctx context.Context, remote, ref string) error {
	if ref == "" {
		_, err := r.run(ctx, "fetch", "--all")
		return err
	}
	_, err := r.run(ctx, "fetch", remote, ref)
	return err
}

// ConfigureIdentity sets user.name/user.email on the working tree (spec.md
// §4.6 step 5).
func (r *Repo) ConfigureIdentity(ctx context.Context, name, email string) error {
	if _, err := r.run(ctx, "config", "user.name", name); err != nil {
		return err
	}
	_, err := r.run(ctx, "config", "user.email", email)
	return err
}

// RevParseQuiet reports whether ref resolves in the repo.
func (r *Repo) RevParseQuiet(ctx context.Context, ref string) bool {
	_, err := r.run(ctx, "rev-parse", "--quiet", "--verify", ref, "--")
	return err == nil
}

// Checkout checks out ref.
func (r *Repo) Checkout(ctx context.Context, ref string) error {
	_, err := r.run(ctx, "checkout", ref)
	return err
}

// SwitchNew creates and checks out a new branch.
func (r *Repo) SwitchNew(ctx context.Context, branch string) error {
	_, err := r.run(ctx, "switch", "-c", branch)
	return err
}

// MergeOursNoCommit merges ref into HEAD with the "ours" strategy, no
// commit, allowing unrelated histories (spec.md §4.6 step 7, merge mode).
func (r *Repo) MergeOursNoCommit(ctx context.Context, ref string) error {
	_, err := r.run(ctx, "merge", "--allow-unrelated-histories", "--no-commit", "-s", "ours", ref)
	return err
}

// SquashMergeNoCommit squash-merges branch into HEAD without committing.
func (r *Repo) SquashMergeNoCommit(ctx context.Context, branch string) error {
	_, err := r.run(ctx, "merge", "--no-commit", "--squash", branch)
	return err
}

// CommitAllowEmpty commits with the given author ("Name <email>") and
// message, even if the tree has no changes staged.
func (r *Repo) CommitAllowEmpty(ctx context.Context, author, message string) error {
	_, err := r.run(ctx, "commit", "--author", author, "--allow-empty", "-m", message)
	return err
}

// CommitAllowEmptyFromFile is like CommitAllowEmpty but reads the message
// from msgFile, preserving exact bytes (spec.md §4.6 step 7: "the message
// is written via a file, not inline, to preserve exact bytes").
func (r *Repo) CommitAllowEmptyFromFile(ctx context.Context, author, msgFile string) error {
	_, err := r.run(ctx, "commit", "--author", author, "--allow-empty", "-F", msgFile)
	return err
}

// PullFFOnly performs a fast-forward-only pull of ref from remote (spec.md
// §4.6 step 7, pull mode), as a fetch followed by `merge --ff-only
// FETCH_HEAD`: unlike `git pull --ff-only`, which only reports that it
// cannot fast-forward, git merge names the unrelated-histories refusal.
// Returns an error wrapping "unrelated histories" text if git refuses due
// to unrelated histories so callers can recognize the LogicalMergeFailure
// case (spec.md §7).
func (r *Repo) PullFFOnly(ctx context.Context, remote, ref string) error {
	if _, err := r.run(ctx, "fetch", remote, ref); err != nil {
		return err
	}
	_, err := r.run(ctx, "merge", "--ff-only", "FETCH_HEAD")
	return err
}

// Unrelated reports whether err came from git refusing to operate on
// unrelated histories (used to distinguish LogicalMergeFailure from other
// TransientIO failures per spec.md §7).
func Unrelated(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unrelated histories")
}

// Push pushes ref to origin, setting upstream. If dryRun, passes --dry-run
// (spec.md §4.6 step 10, §6).
func (r *Repo) Push(ctx context.Context, ref string, dryRun bool) error {
	args := []string{"push"}
	if dryRun {
		args = append(args, "--dry-run")
	}
	args = append(args, "--set-upstream", "origin", ref)
	_, err := r.run(ctx, args...)
	return err
}

// RevParseHEAD returns the full hash of HEAD.
func (r *Repo) RevParseHEAD(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
