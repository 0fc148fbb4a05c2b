// Package buildsys models the two build-system sessions DistroBaker talks
// to: the source session (anonymous, read-only: build and tag lookups) and
// the destination session (authenticated: build submission). Sessions are
// expensive to establish and are memoized per role by Cache (spec.md §4.4).
package buildsys

import "context"

// Role distinguishes the two build-system roles a Session can serve.
// Source sessions are anonymous and read-only; Destination sessions are
// authenticated and may submit builds (spec.md §4.4).
type Role int

const (
	Source Role = iota
	Destination
)

func (r Role) String() string {
	switch r {
	case Source:
		return "source"
	case Destination:
		return "destination"
	default:
		return "unknown"
	}
}

// Build is the subset of build-system build metadata DistroBaker cares
// about.
type Build struct {
	ID     int
	NVR    string
	State  string
	Source string // the build's authoritative upstream SCMURL, per getBuild's "source" field
}

// Session is anything that can answer the build-system queries the sync
// pipeline and dispatcher need. The source and destination endpoints
// implement it identically; only their authentication and write
// permissions differ.
type Session interface {
	// GetBuild looks up a build by NVR. The second return value is false
	// if no such build exists (a "not found", not an error).
	GetBuild(ctx context.Context, nvr string) (*Build, bool, error)
	// ListTagged lists builds currently tagged with tag.
	ListTagged(ctx context.Context, tag string) ([]Build, error)
	// SubmitBuild submits an SCM URL to target, returning the new task ID.
	// Only meaningful against a Destination session.
	SubmitBuild(ctx context.Context, target, scmurl string, scratch bool) (int, error)
}
