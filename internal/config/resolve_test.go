package config

import "testing"

func TestResolveFallsBackToDefaults(t *testing.T) {
	cfg := &Configuration{
		Main: Main{
			Defaults: Defaults{
				RPMs: Template{
					Source:      "https://example.test/rpms/%(component)s",
					Destination: "https://example.test/dest/rpms/%(component)s",
				},
				Modules: Template{
					Source:      "https://example.test/modules/%(name)s/%(stream)s",
					Destination: "https://example.test/dest/modules/%(name)s/%(stream)s",
				},
			},
		},
		Comps: Comps{RPMs: map[string]Component{}, Modules: map[string]Component{}},
	}

	c := cfg.Resolve(RPMs, "zlib")
	if c.Source != "https://example.test/rpms/zlib" {
		t.Errorf("RPMs Source = %q", c.Source)
	}

	m := cfg.Resolve(Modules, "go-toolset:rhel8")
	if m.Source != "https://example.test/modules/go-toolset/rhel8" {
		t.Errorf("Modules Source = %q", m.Source)
	}
}

func TestResolvePrefersExplicitOverride(t *testing.T) {
	cfg := &Configuration{
		Main: Main{Defaults: Defaults{RPMs: Template{Source: "https://example.test/%(component)s"}}},
		Comps: Comps{
			RPMs: map[string]Component{"zlib": {Source: "https://overridden.example.test/zlib"}},
		},
	}
	c := cfg.Resolve(RPMs, "zlib")
	if c.Source != "https://overridden.example.test/zlib" {
		t.Errorf("Source = %q, want explicit override", c.Source)
	}
}
