package sources

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParseAbsent(t *testing.T) {
	// P3: an absent manifest returns an empty, non-nil set.
	got, err := Parse(nil, "rpms", "gzip", filepath.Join(t.TempDir(), "sources"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("Parse(absent) = %v, want empty set", got)
	}
}

func TestParseMD5AndSHA512(t *testing.T) {
	dir := t.TempDir()
	p := write(t, dir, "sources",
		"5eb63bbbe01eeed093cb22bb8f5acdc3  hello.tar.gz\n"+
			"SHA512 (world.tar.xz) = "+
			"309ecc489c12d6eb4cc40f50c902f2b4d0ed77ee511a7c7a9bcd3ca86d4cd86f"+
			"989dd35bc5ff499670da34255b45b0cfd830e81f605dcf7dc5542e93ae9cd76f\n")

	got, err := Parse(nil, "rpms", "gzip", p)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	want := map[Entry]struct{}{
		{Filename: "hello.tar.gz", Hash: "5eb63bbbe01eeed093cb22bb8f5acdc3", HashType: MD5}:           {},
		{Filename: "world.tar.xz", Hash: "309ecc489c12d6eb4cc40f50c902f2b4d0ed77ee511a7c7a9bcd3ca86d4cd86f989dd35bc5ff499670da34255b45b0cfd830e81f605dcf7dc5542e93ae9cd76f", HashType: SHA512}: {},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseIdempotent(t *testing.T) {
	// P3: parsing twice yields equal sets.
	dir := t.TempDir()
	p := write(t, dir, "sources", "5eb63bbbe01eeed093cb22bb8f5acdc3  hello.tar.gz\n")
	a, err := Parse(nil, "rpms", "gzip", p)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Parse(nil, "rpms", "gzip", p)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("two parses disagree (-first +second):\n%s", diff)
	}
}

func TestParseGarbage(t *testing.T) {
	dir := t.TempDir()
	p := write(t, dir, "sources", "this is not a valid sources line\n")
	got, err := Parse(nil, "rpms", "gzip", p)
	if err != nil {
		t.Fatalf("Parse() error = %v, want nil error with nil result", err)
	}
	if got != nil {
		t.Fatalf("Parse(garbage) = %v, want nil", got)
	}
}

func TestDiff(t *testing.T) {
	a := map[Entry]struct{}{
		{Filename: "x", Hash: "1", HashType: MD5}: {},
		{Filename: "y", Hash: "2", HashType: MD5}: {},
	}
	b := map[Entry]struct{}{
		{Filename: "x", Hash: "1", HashType: MD5}: {},
	}
	d := Diff(a, b)
	if len(d) != 1 {
		t.Fatalf("Diff() = %v, want 1 entry", d)
	}
	if _, ok := d[Entry{Filename: "y", Hash: "2", HashType: MD5}]; !ok {
		t.Fatalf("Diff() = %v, want entry y", d)
	}
}
