package syncpipe

import (
	"bytes"
	"context"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/fedora-infra/distrobaker"
	"github.com/fedora-infra/distrobaker/internal/config"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func initRepo(t *testing.T, dir, marker, content string) string {
	t.Helper()
	run := func(args ...string) string {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
		out, err := cmd.CombinedOutput()
		if err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
		return string(out)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	run("init", "-b", "master")
	if err := os.WriteFile(filepath.Join(dir, marker), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", marker)
	run("commit", "-m", "initial commit with "+marker)
	return run("rev-parse", "HEAD")[:40]
}

func baseConfig(source, dest config.Endpoint) *config.Configuration {
	return &config.Configuration{
		Main: config.Main{
			Source:      source,
			Destination: dest,
			Git:         config.Git{Author: "Test Bot", Email: "bot@example.test", Message: "Synchronized build"},
			Control:     config.Control{Merge: true, Exclude: config.Exclude{RPMs: map[string]struct{}{}, Modules: map[string]struct{}{}}},
		},
		Comps: config.Comps{RPMs: map[string]config.Component{}, Modules: map[string]config.Component{}},
	}
}

func TestSyncMergeModeDryRunReturnsRef(t *testing.T) {
	requireGit(t)
	base := t.TempDir()
	t.Setenv("DISTROBAKER_WORKDIR", base)

	upstream := filepath.Join(base, "upstream")
	head := initRepo(t, upstream, "source", "upstream content")

	dst := filepath.Join(base, "dst")
	initRepo(t, dst, "destination", "destination content")

	cfg := baseConfig(
		config.Endpoint{SCM: upstream},
		config.Endpoint{SCM: dst},
	)
	cfg.Comps.RPMs["somepkg"] = config.Component{Source: upstream, Destination: dst}

	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)
	opts := distrobaker.DefaultOptions()
	opts.DryRun = true

	ref, err := Sync(context.Background(), logger, cfg, opts, config.RPMs, "somepkg", upstream+"#"+head)
	if err != nil {
		t.Fatalf("Sync() error = %v, log:\n%s", err, buf.String())
	}
	if ref == "" {
		t.Fatalf("Sync() returned an empty ref")
	}
}

func TestSyncExcludedComponentIsNoop(t *testing.T) {
	cfg := baseConfig(config.Endpoint{}, config.Endpoint{})
	cfg.Main.Control.Exclude.RPMs["excluded"] = struct{}{}

	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)
	ref, err := Sync(context.Background(), logger, cfg, distrobaker.DefaultOptions(), config.RPMs, "excluded", "https://example.test/x#deadbeef")
	if err != nil {
		t.Fatalf("Sync() error = %v, want nil for an excluded component", err)
	}
	if ref != "" {
		t.Errorf("Sync() ref = %q, want empty for an excluded component", ref)
	}
}
