// Package scmurl splits the `link#ref` SCMURL strings used throughout
// DistroBaker, and the `name:stream` module component keys, into their
// parts. Both operations are pure syntactic splits with no validation: see
// spec.md §4.1.
package scmurl

import "strings"

// URL is the parsed form of a `link[#ref]` SCMURL. Ref is nil when no `#ref`
// suffix was present (callers default it to "master" where the spec calls
// for defaulting, e.g. destination refs; build refs are taken as-is).
//
// NS and Comp are best-effort extractions of the link path's penultimate and
// last segments respectively ("namespace" and "component" in dist-git
// terms); they may be empty if the path is too short to have them.
type URL struct {
	Link string
	Ref  *string
	NS   string
	Comp string
}

// RefOr returns Ref if present, else def.
func (u URL) RefOr(def string) string {
	if u.Ref != nil {
		return *u.Ref
	}
	return def
}

// Split splits an scmurl of the form "link#ref" (ref optional) into its
// parts. It never fails: an absent "#" simply yields a nil Ref.
func Split(scmurl string) URL {
	link := scmurl
	var ref *string
	if idx := strings.IndexByte(scmurl, '#'); idx >= 0 {
		link = scmurl[:idx]
		r := scmurl[idx+1:]
		ref = &r
	}
	var ns, comp string
	parts := strings.Split(link, "/")
	if len(parts) >= 1 {
		comp = parts[len(parts)-1]
	}
	if len(parts) >= 2 {
		ns = parts[len(parts)-2]
	}
	return URL{Link: link, Ref: ref, NS: ns, Comp: comp}
}

// Join re-forms a link#ref SCMURL. If ref is empty, only the link is
// returned.
func Join(link, ref string) string {
	if ref == "" {
		return link
	}
	return link + "#" + ref
}

// ModuleName is a parsed `name:stream` module component key.
type ModuleName struct {
	Name   string
	Stream string
}

// SplitModule splits a module component key in `name:stream` form. Extra
// trailing colons are ignored (only the first two fields matter); an empty
// or absent stream half defaults to "master" (spec.md §4.1, P2).
func SplitModule(comp string) ModuleName {
	parts := strings.Split(comp, ":")
	name := parts[0]
	stream := "master"
	if len(parts) > 1 && parts[1] != "" {
		stream = parts[1]
	}
	return ModuleName{Name: name, Stream: stream}
}
