// Package distrobaker holds the small ambient primitives shared by every
// DistroBaker component: interruptible contexts, scoped scratch
// directories, the at-exit registry backing them, and the generic retry
// helper used by the git, lookaside, and configuration collaborators.
package distrobaker

import (
	"os"

	"golang.org/x/xerrors"
)

// WorkDir is the parent directory under which scratch clones and cache
// reconciliation scratch space are created. It defaults to the system
// temporary directory but can be overridden (e.g. when the default
// filesystem doesn't have room for large dist-git clones).
var WorkDir = findWorkDir()

func findWorkDir() string {
	if d := os.Getenv("DISTROBAKER_WORKDIR"); d != "" {
		return d
	}
	return os.TempDir()
}

// ScratchDir is a scoped temporary directory. Release must be called on
// every exit path (success, skip, failure, or cancellation); it is also
// registered with RegisterAtExit so an interrupted process still cleans up.
type ScratchDir struct {
	Path string

	released bool
}

// NewScratchDir creates a fresh scratch directory under WorkDir with the
// given prefix (e.g. "repo-rpms-gzip-", "cache-modules-foo-").
func NewScratchDir(prefix string) (*ScratchDir, error) {
	dir, err := os.MkdirTemp(WorkDir, prefix)
	if err != nil {
		return nil, xerrors.Errorf("creating scratch directory: %w", err)
	}
	s := &ScratchDir{Path: dir}
	RegisterAtExit(s.Release)
	return s, nil
}

// Release removes the scratch directory. It is idempotent and safe to call
// multiple times (e.g. once explicitly via defer, once via RunAtExit).
func (s *ScratchDir) Release() error {
	if s == nil || s.released {
		return nil
	}
	s.released = true
	return os.RemoveAll(s.Path)
}
