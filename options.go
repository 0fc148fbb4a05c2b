package distrobaker

// Options holds the process-wide knobs spec §3/§5 describe as module-level
// state set once at startup and held constant for the duration of any given
// sync: the retry count and the dry-run flag. They are threaded explicitly
// into component constructors rather than kept as mutable package globals,
// the idiomatic Go rendering of "globals... not modified during a sync."
type Options struct {
	// Retry is the number of attempts for git, lookaside, and
	// configuration-loading operations. Defaults to 3 (spec §3).
	Retry int

	// DryRun disables all destructive remote mutations except a
	// --dry-run git push, and makes BuildComp return the sentinel task
	// id 0 without submitting anything (spec §6).
	DryRun bool
}

// DefaultOptions returns the spec-mandated defaults: three retries, dry-run
// disabled.
func DefaultOptions() Options {
	return Options{Retry: 3, DryRun: false}
}
