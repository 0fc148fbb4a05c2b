// Package dispatch implements the message handler and batch driver
// (spec.md §4.7): it resolves the latest build for a component, enforces
// strict-mode and exclusion precedence, drives syncpipe.Sync, and submits
// the resulting build.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"

	"github.com/fedora-infra/distrobaker"
	"github.com/fedora-infra/distrobaker/internal/buildsys"
	"github.com/fedora-infra/distrobaker/internal/config"
	"github.com/fedora-infra/distrobaker/internal/syncpipe"
	"golang.org/x/xerrors"
)

// Message is the minimal shape of a message-bus delivery dispatch needs:
// a topic and the buildsys.tag body fields (spec.md §6 "Message
// envelope"). The message-bus client itself is an out-of-scope external
// collaborator (spec.md §1); this type is the only contract this package
// has with it.
type Message struct {
	Topic string
	Body  struct {
		Name    string
		Version string
		Release string
		Tag     string
	}
}

// Dispatcher wires the configuration store and build-system session cache
// together to drive sync and build submission.
type Dispatcher struct {
	Logger   *log.Logger
	Store    *config.Store
	Sessions *buildsys.Cache
	Options  distrobaker.Options
}

type decision int

const (
	decideSkipExcluded decision = iota
	decideSkipStrict
	decideSkipModulesUnimplemented
	decideSync
)

// decide resolves the dispatch action for ns/comp against cfg, in the
// precedence order spec.md §4.7 mandates: exclusion first, then strict
// mode, then the modules-unimplemented rule.
func decide(cfg *config.Configuration, ns config.NS, comp string) decision {
	if cfg.Main.Control.Exclude.Has(ns, comp) {
		return decideSkipExcluded
	}
	if cfg.Main.Control.Strict {
		if _, ok := cfg.Comps.Get(ns, comp); !ok {
			return decideSkipStrict
		}
	}
	if ns == config.Modules {
		return decideSkipModulesUnimplemented
	}
	return decideSync
}

// dispatch runs decide and, if it resolves to decideSync, runs the sync
// pipeline followed by build submission. It returns the pushed ref (""
// if the component was skipped or the sync aborted) and whether the
// component actually reached sync_repo - that second value, not the ref,
// is what a batch driver must use to tell "skipped by precedence" apart
// from "synced but aborted" (spec.md §4.7 "Synchronized N component(s),
// M skipped." tally: a component whose sync started counts towards N even
// if the sync then aborts).
func (d *Dispatcher) dispatch(ctx context.Context, ns config.NS, comp, buildScmurl string) (ref string, attempted bool, err error) {
	cfg := d.Store.Get()
	if cfg == nil {
		d.Logger.Printf("not configured, skipping %s/%s", ns, comp)
		return "", false, nil
	}

	switch decide(cfg, ns, comp) {
	case decideSkipExcluded:
		d.Logger.Printf("%s/%s is excluded, skipping", ns, comp)
		return "", false, nil
	case decideSkipStrict:
		d.Logger.Printf("strict mode: %s/%s is not configured, skipping", ns, comp)
		return "", false, nil
	case decideSkipModulesUnimplemented:
		d.Logger.Printf("module building is not implemented, skipping %s/%s", ns, comp)
		return "", false, nil
	}

	ref, err = syncpipe.Sync(ctx, d.Logger, cfg, d.Options, ns, comp, buildScmurl)
	if err != nil {
		d.Logger.Printf("sync of %s/%s failed: %v", ns, comp, err)
		return "", true, nil
	}
	if ref == "" {
		return "", true, nil
	}

	if _, err := d.BuildComp(ctx, comp, ref, ns); err != nil {
		d.Logger.Printf("build submission for %s/%s failed: %v", ns, comp, err)
	}
	return ref, true, nil
}

// ProcessMessage handles a single message-bus delivery (spec.md §4.7,
// S5). Only messages whose topic ends in "buildsys.tag" are acted on;
// everything else is dropped with a warning.
func (d *Dispatcher) ProcessMessage(ctx context.Context, msg Message) {
	if !strings.HasSuffix(msg.Topic, "buildsys.tag") {
		d.Logger.Printf("ignoring message with topic %q", msg.Topic)
		return
	}

	cfg := d.Store.Get()
	if cfg == nil {
		d.Logger.Printf("not configured, dropping message for %s", msg.Body.Name)
		return
	}

	comp := msg.Body.Name
	nvr := fmt.Sprintf("%s-%s-%s", msg.Body.Name, msg.Body.Version, msg.Body.Release)

	switch msg.Body.Tag {
	case cfg.Main.Trigger.RPMs:
		d.runByNVR(ctx, config.RPMs, comp, nvr)
	case cfg.Main.Trigger.Modules:
		d.Logger.Printf("module tag %q triggered for %s; module building is not implemented", msg.Body.Tag, comp)
	default:
		d.Logger.Printf("tag %q does not match any configured trigger, dropping", msg.Body.Tag)
	}
}

// runByNVR resolves nvr's build SCMURL via the source session and
// dispatches the sync for it.
func (d *Dispatcher) runByNVR(ctx context.Context, ns config.NS, comp, nvr string) {
	session, err := d.Sessions.Get(ctx, buildsys.Source)
	if err != nil {
		d.Logger.Printf("could not obtain a source session: %v", err)
		return
	}
	build, ok, err := session.GetBuild(ctx, nvr)
	if err != nil {
		d.Logger.Printf("looking up build %s: %v", nvr, err)
		return
	}
	if !ok {
		d.Logger.Printf("build %s not found, skipping", nvr)
		return
	}
	if _, _, err := d.dispatch(ctx, ns, comp, build.Source); err != nil {
		d.Logger.Printf("dispatch of %s/%s failed: %v", ns, comp, err)
	}
}

var componentPattern = regexp.MustCompile(`^(rpms|modules)/([A-Za-z0-9:._+-]+)$`)

// ProcessComponents drives a batch sync over compset (spec.md §4.7). An
// empty compset is expanded to the latest builds tagged with
// trigger.rpms/trigger.modules from the source build system.
func (d *Dispatcher) ProcessComponents(ctx context.Context, compset map[string]struct{}) error {
	if compset == nil {
		return xerrors.New("input must be a set")
	}

	entries := compset
	if len(entries) == 0 {
		cfg := d.Store.Get()
		if cfg == nil {
			return xerrors.New("not configured")
		}
		expanded, err := d.latestTagged(ctx, cfg)
		if err != nil {
			return err
		}
		entries = expanded
	}

	sorted := make([]string, 0, len(entries))
	for e := range entries {
		sorted = append(sorted, e)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return strings.ToLower(sorted[i]) < strings.ToLower(sorted[j])
	})

	var synced, skipped int
	for _, entry := range sorted {
		m := componentPattern.FindStringSubmatch(entry)
		if m == nil {
			d.Logger.Printf("ignoring garbage component entry %q", entry)
			skipped++
			continue
		}
		ns := config.NS(m[1])
		comp := m[2]

		buildScmurl, err := d.resolveBuildScmurl(ctx, ns, comp)
		if err != nil {
			d.Logger.Printf("could not resolve a build for %s/%s: %v", ns, comp, err)
			skipped++
			continue
		}
		_, attempted, err := d.dispatch(ctx, ns, comp, buildScmurl)
		if err != nil || !attempted {
			skipped++
			continue
		}
		synced++
	}

	d.Logger.Printf("Synchronized %d component(s), %d skipped.", synced, skipped)
	return nil
}

// latestTagged expands an empty compset into the latest rpms/modules
// builds tagged with the configured triggers (spec.md §4.7).
func (d *Dispatcher) latestTagged(ctx context.Context, cfg *config.Configuration) (map[string]struct{}, error) {
	session, err := d.Sessions.Get(ctx, buildsys.Source)
	if err != nil {
		return nil, err
	}

	out := make(map[string]struct{})
	rpms, err := session.ListTagged(ctx, cfg.Main.Trigger.RPMs)
	if err != nil {
		return nil, xerrors.Errorf("listing builds tagged %s: %w", cfg.Main.Trigger.RPMs, err)
	}
	for _, b := range rpms {
		pkg := packageFromNVR(b.NVR)
		if pkg != "" {
			out["rpms/"+pkg] = struct{}{}
		}
	}

	modules, err := session.ListTagged(ctx, cfg.Main.Trigger.Modules)
	if err != nil {
		return nil, xerrors.Errorf("listing builds tagged %s: %w", cfg.Main.Trigger.Modules, err)
	}
	for _, b := range modules {
		out["modules/"+b.NVR] = struct{}{}
	}

	return out, nil
}

// resolveBuildScmurl finds the latest build tagged for ns/comp and
// returns its authoritative upstream SCMURL, implementing the "nvr
// omitted" half of sync_repo's precondition (spec.md §4.6): "either nvr
// is provided, or get_build(comp, ns) resolves one."
func (d *Dispatcher) resolveBuildScmurl(ctx context.Context, ns config.NS, comp string) (string, error) {
	cfg := d.Store.Get()
	if cfg == nil {
		return "", xerrors.New("not configured")
	}
	session, err := d.Sessions.Get(ctx, buildsys.Source)
	if err != nil {
		return "", err
	}

	trigger := cfg.Main.Trigger.RPMs
	if ns == config.Modules {
		trigger = cfg.Main.Trigger.Modules
	}
	tagged, err := session.ListTagged(ctx, trigger)
	if err != nil {
		return "", xerrors.Errorf("listing builds tagged %s: %w", trigger, err)
	}

	var nvr string
	for _, b := range tagged {
		if ns == config.RPMs && packageFromNVR(b.NVR) == comp {
			nvr = b.NVR
			break
		}
		if ns == config.Modules && b.NVR == comp {
			nvr = b.NVR
			break
		}
	}
	if nvr == "" {
		return "", xerrors.Errorf("no tagged build found for %s/%s", ns, comp)
	}

	build, ok, err := session.GetBuild(ctx, nvr)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", xerrors.Errorf("build %s not found", nvr)
	}
	return build.Source, nil
}

// packageFromNVR strips the version-release suffix from an N-V-R string,
// returning just the package name.
func packageFromNVR(nvr string) string {
	parts := strings.Split(nvr, "-")
	if len(parts) < 3 {
		return nvr
	}
	return strings.Join(parts[:len(parts)-2], "-")
}

// BuildComp submits a build for the synced ref (spec.md §4.7). Only the
// rpms namespace is implemented; modules return an error with a
// critical-level log, matching the Unimplemented error class (spec.md
// §7).
func (d *Dispatcher) BuildComp(ctx context.Context, comp, ref string, ns config.NS) (int, error) {
	if ns != config.RPMs {
		d.Logger.Printf("CRITICAL: build submission for namespace %q is not implemented", ns)
		return 0, xerrors.Errorf("build submission not implemented for namespace %q", ns)
	}

	cfg := d.Store.Get()
	if cfg == nil {
		return 0, xerrors.New("not configured")
	}

	buildComp := comp
	if c, ok := cfg.Comps.Get(ns, comp); ok && c.Destination != "" {
		buildComp = lastPathSegment(c.Destination)
	}

	scmurl := fmt.Sprintf("%s/%s/%s#%s", cfg.Main.Build.Prefix, ns, buildComp, ref)

	if d.Options.DryRun {
		d.Logger.Printf("dry run: not submitting build for %s (would use %s)", comp, scmurl)
		return 0, nil
	}

	session, err := d.Sessions.Get(ctx, buildsys.Destination)
	if err != nil {
		return 0, xerrors.Errorf("obtaining destination session: %w", err)
	}

	var taskID int
	err = distrobaker.Retry(ctx, d.Options.Retry, func(attempt int) error {
		id, err := session.SubmitBuild(ctx, cfg.Main.Build.Target, scmurl, cfg.Main.Build.Scratch)
		if err != nil {
			return err
		}
		taskID = id
		return nil
	}, func(attempt int, err error) {
		d.Logger.Printf("failed to submit build for %s, retrying (#%d): %v", comp, attempt, err)
	})
	if err != nil {
		return 0, xerrors.Errorf("submitting build for %s: %w", comp, err)
	}
	d.Logger.Printf("submitted build for %s: task %d", comp, taskID)
	return taskID, nil
}

func lastPathSegment(s string) string {
	parts := strings.Split(strings.TrimRight(s, "/"), "/")
	return parts[len(parts)-1]
}
