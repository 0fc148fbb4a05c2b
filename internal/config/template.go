package config

import "strings"

// expand renders a `defaults.*` template. Templates use the Python-dict
// placeholder syntax the original distrobaker.yaml convention established
// (`%(component)s`, and for modules `%(stream)s`), not Go's `{{ }}`
// text/template syntax — this is a fixed external wire format, not a
// general templating need.
//
// This is the resolution of spec.md §9 open question (a): both `component`
// (the configured key as a whole) and, for modules, `name`/`stream` (its
// parsed halves) are accepted as placeholders.
func expand(tmpl, component, name, stream string) string {
	r := strings.NewReplacer(
		"%(component)s", component,
		"%(name)s", name,
		"%(stream)s", stream,
	)
	return r.Replace(tmpl)
}
