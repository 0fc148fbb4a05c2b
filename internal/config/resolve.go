package config

import "github.com/fedora-infra/distrobaker/internal/scmurl"

// Resolve returns the fully-expanded Component for ns/comp: an explicit
// components.<ns>.<key> override from Comps if one exists, otherwise a
// Component synthesised on the fly from defaults.* templates (spec.md
// §4.6 step 2, §6). Non-strict mode processes components that were never
// listed in distrobaker.yaml, so this must work for keys Comps does not
// contain.
func (c *Configuration) Resolve(ns NS, comp string) Component {
	if cc, ok := c.Comps.Get(ns, comp); ok {
		return cc
	}

	name, stream := comp, ""
	if ns == Modules {
		mn := scmurl.SplitModule(comp)
		name, stream = mn.Name, mn.Stream
	}

	tmpl := c.Main.Defaults.RPMs
	if ns == Modules {
		tmpl = c.Main.Defaults.Modules
	}
	return Component{
		Source:      expand(tmpl.Source, comp, name, stream),
		Destination: expand(tmpl.Destination, comp, name, stream),
		Cache: CacheOverride{
			Source:      expand(c.Main.Defaults.Cache.Source, comp, name, stream),
			Destination: expand(c.Main.Defaults.Cache.Destination, comp, name, stream),
		},
	}
}
