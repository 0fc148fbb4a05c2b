package dispatch

import (
	"bytes"
	"context"
	"log"
	"strings"
	"testing"

	"github.com/fedora-infra/distrobaker"
	"github.com/fedora-infra/distrobaker/internal/config"
)

func newStore(t *testing.T, cfg *config.Configuration) *config.Store {
	t.Helper()
	s := &config.Store{}
	s.Swap(cfg)
	return s
}

func minimalConfig() *config.Configuration {
	return &config.Configuration{
		Main: config.Main{
			Trigger: config.Trigger{RPMs: "f40-build", Modules: "f40-modules-build"},
			Control: config.Control{
				Exclude: config.Exclude{RPMs: map[string]struct{}{"excluded": {}}, Modules: map[string]struct{}{}},
			},
		},
		Comps: config.Comps{RPMs: map[string]config.Component{"configured": {}}, Modules: map[string]config.Component{}},
	}
}

func TestDecideExclusionTakesPrecedence(t *testing.T) {
	cfg := minimalConfig()
	cfg.Main.Control.Strict = true
	if got := decide(cfg, config.RPMs, "excluded"); got != decideSkipExcluded {
		t.Errorf("decide() = %v, want decideSkipExcluded", got)
	}
}

func TestDecideStrictModeSkipsUnconfigured(t *testing.T) {
	cfg := minimalConfig()
	cfg.Main.Control.Strict = true
	if got := decide(cfg, config.RPMs, "unconfigured"); got != decideSkipStrict {
		t.Errorf("decide() = %v, want decideSkipStrict", got)
	}
	if got := decide(cfg, config.RPMs, "configured"); got == decideSkipStrict {
		t.Errorf("decide() = %v, configured component must not be skipped", got)
	}
}

func TestDecideModulesUnimplemented(t *testing.T) {
	cfg := minimalConfig()
	if got := decide(cfg, config.Modules, "whatever"); got != decideSkipModulesUnimplemented {
		t.Errorf("decide() = %v, want decideSkipModulesUnimplemented", got)
	}
}

func TestProcessComponentsRejectsNonSet(t *testing.T) {
	var buf bytes.Buffer
	d := &Dispatcher{Logger: log.New(&buf, "", 0), Store: newStore(t, minimalConfig()), Options: distrobaker.DefaultOptions()}
	if err := d.ProcessComponents(context.Background(), nil); err == nil {
		t.Fatalf("ProcessComponents(nil) = nil error, want an error")
	}
}

func TestBuildCompDryRunReturnsZero(t *testing.T) {
	cfg := minimalConfig()
	cfg.Main.Build = config.Build{Prefix: "rpms", Target: "f40-candidate"}
	var buf bytes.Buffer
	opts := distrobaker.DefaultOptions()
	opts.DryRun = true
	d := &Dispatcher{Logger: log.New(&buf, "", 0), Store: newStore(t, cfg), Options: opts}

	id, err := d.BuildComp(context.Background(), "somepkg", "deadbeef", config.RPMs)
	if err != nil {
		t.Fatalf("BuildComp() error = %v", err)
	}
	if id != 0 {
		t.Errorf("BuildComp() task id = %d, want 0 for dry run", id)
	}
}

func TestBuildCompModulesUnimplemented(t *testing.T) {
	var buf bytes.Buffer
	d := &Dispatcher{Logger: log.New(&buf, "", 0), Store: newStore(t, minimalConfig()), Options: distrobaker.DefaultOptions()}
	_, err := d.BuildComp(context.Background(), "mod", "deadbeef", config.Modules)
	if err == nil {
		t.Fatalf("BuildComp() for modules = nil error, want Unimplemented error")
	}
	if !strings.Contains(buf.String(), "CRITICAL") {
		t.Errorf("log output = %q, want a CRITICAL-level line", buf.String())
	}
}

func TestProcessMessageIgnoresUnrelatedTopic(t *testing.T) {
	var buf bytes.Buffer
	d := &Dispatcher{Logger: log.New(&buf, "", 0), Store: newStore(t, minimalConfig()), Options: distrobaker.DefaultOptions()}
	msg := Message{Topic: "org.fedoraproject.prod.git.receive"}
	d.ProcessMessage(context.Background(), msg)
	if !strings.Contains(buf.String(), "ignoring") {
		t.Errorf("log output = %q, want it to mention ignoring the message", buf.String())
	}
}
