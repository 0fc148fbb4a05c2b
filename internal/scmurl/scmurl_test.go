package scmurl

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSplit(t *testing.T) {
	for _, tt := range []struct {
		name   string
		scmurl string
		want   URL
	}{
		{
			name:   "S1 fedora gzip rawhide",
			scmurl: "https://src.fedoraproject.org/rpms/gzip.git#rawhide",
			want: URL{
				Link: "https://src.fedoraproject.org/rpms/gzip.git",
				Ref:  strPtr("rawhide"),
				NS:   "rpms",
				Comp: "gzip.git",
			},
		},
		{
			name:   "no ref",
			scmurl: "https://src.fedoraproject.org/rpms/gzip.git",
			want: URL{
				Link: "https://src.fedoraproject.org/rpms/gzip.git",
				Ref:  nil,
				NS:   "rpms",
				Comp: "gzip.git",
			},
		},
		{
			name:   "short path",
			scmurl: "gzip.git#f38",
			want:   URL{Link: "gzip.git", Ref: strPtr("f38"), NS: "", Comp: "gzip.git"},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got := Split(tt.scmurl)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("Split(%q) mismatch (-want +got):\n%s", tt.scmurl, diff)
			}
		})
	}
}

func TestSplitRoundTrip(t *testing.T) {
	// P1: round-trip for any link#ref pair, link is byte-identical.
	for _, tt := range []struct {
		link, ref string
	}{
		{"https://pagure.io/rpms/make.git", "main"},
		{"https://pagure.io/modules/go-toolset.git", "rawhide"},
		{"a/b/c", "x"},
	} {
		got := Split(Join(tt.link, tt.ref))
		if got.Link != tt.link {
			t.Errorf("Split(Join(%q,%q)).Link = %q, want %q", tt.link, tt.ref, got.Link, tt.link)
		}
		if got.Ref == nil || *got.Ref != tt.ref {
			t.Errorf("Split(Join(%q,%q)).Ref = %v, want %q", tt.link, tt.ref, got.Ref, tt.ref)
		}
	}
	got := Split("https://pagure.io/rpms/make.git")
	if got.Ref != nil {
		t.Errorf("Split(no ref).Ref = %q, want nil", *got.Ref)
	}
}

func TestSplitModule(t *testing.T) {
	for _, tt := range []struct {
		comp string
		want ModuleName
	}{
		// P2
		{"", ModuleName{Name: "", Stream: "master"}},
		{":", ModuleName{Name: "", Stream: "master"}},
		{"n:s:x:y", ModuleName{Name: "n", Stream: "s"}},
		{"go-toolset:rhel8", ModuleName{Name: "go-toolset", Stream: "rhel8"}},
		{"nodejs", ModuleName{Name: "nodejs", Stream: "master"}},
	} {
		t.Run(tt.comp, func(t *testing.T) {
			got := SplitModule(tt.comp)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("SplitModule(%q) mismatch (-want +got):\n%s", tt.comp, diff)
			}
		})
	}
}

func strPtr(s string) *string { return &s }
