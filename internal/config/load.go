// Package config loads and validates distrobaker.yaml from a configuration
// SCM repository into an in-memory Configuration, and holds the current
// configuration behind an atomically-swapped Store (spec.md §4.3).
package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/fedora-infra/distrobaker"
	"github.com/fedora-infra/distrobaker/internal/gitrepo"
	"github.com/fedora-infra/distrobaker/internal/scmurl"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// rawTree is the generic shape distrobaker.yaml decodes into. Using a
// generic map (rather than a tagged struct) lets Load perform the same
// field-by-field presence checks the original tool does and report the
// same dotted-path diagnostics, instead of silently zero-filling missing
// fields the way a tagged struct unmarshal would.
type rawTree struct {
	Configuration map[string]interface{} `yaml:"configuration"`
	Components    map[string]interface{} `yaml:"components"`
}

// Load performs a shallow clone of scmurl.link, checks out scmurl.ref
// (defaulting to "master"), parses distrobaker.yaml, validates it, and -
// only on complete success - atomically installs it into store. On any
// failure, store is left untouched and Load returns (nil, error); the
// error has already been logged at the appropriate level (spec.md §4.3,
// §7, P4).
func Load(ctx context.Context, logger *log.Logger, store *Store, crepo string, opts distrobaker.Options) (*Configuration, error) {
	scm := scmurl.Split(crepo)
	ref := scm.RefOr("master")

	logger.Printf("fetching configuration from %s", crepo)

	dir, err := distrobaker.NewScratchDir("distrobaker-config-")
	if err != nil {
		return nil, err
	}
	defer dir.Release()

	err = distrobaker.Retry(ctx, opts.Retry, func(attempt int) error {
		// A fresh directory is required on every retry: git clone refuses
		// to populate a non-empty target.
		if attempt > 1 {
			if err := os.RemoveAll(dir.Path); err != nil {
				return err
			}
			if err := os.MkdirAll(dir.Path, 0o755); err != nil {
				return err
			}
		}
		_, err := gitrepo.Clone(ctx, scm.Link, ref, dir.Path)
		return err
	}, func(attempt int, err error) {
		logger.Printf("failed to fetch configuration, retrying (#%d): %v", attempt, err)
	})
	if err != nil {
		logger.Printf("failed to fetch configuration, giving up: %v", err)
		return nil, err
	}
	logger.Printf("configuration fetched successfully")

	yamlPath := filepath.Join(dir.Path, "distrobaker.yaml")
	f, err := os.Open(yamlPath)
	if os.IsNotExist(err) {
		logger.Printf("configuration repository does not contain distrobaker.yaml")
		return nil, xerrors.New("distrobaker.yaml missing")
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tree rawTree
	if err := yaml.NewDecoder(f).Decode(&tree); err != nil {
		logger.Printf("could not parse distrobaker.yaml: %v", err)
		return nil, xerrors.Errorf("parsing distrobaker.yaml: %w", err)
	}

	if tree.Configuration == nil {
		return nil, configErrorf(logger, "", "the required configuration block is missing")
	}

	main, err := parseMain(logger, tree.Configuration)
	if err != nil {
		return nil, err
	}

	comps, err := parseComponents(logger, tree.Components, main)
	if err != nil {
		return nil, err
	}

	if main.Control.Strict {
		logger.Printf("running in the strict mode; only configured components will be processed")
	} else {
		logger.Printf("running in the non-strict mode; all trigger components will be processed")
	}

	cfg := &Configuration{Main: *main, Comps: *comps}
	store.Swap(cfg)
	return cfg, nil
}

func configErrorf(logger *log.Logger, path, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	full := msg
	if path != "" {
		full = fmt.Sprintf("%s: %s", path, msg)
	}
	logger.Printf("configuration error: %s", full)
	return xerrors.Errorf("configuration error: %s", full)
}

func missing(logger *log.Logger, dotted string) error {
	logger.Printf("configuration error: %s missing", dotted)
	return xerrors.Errorf("configuration error: %s missing", dotted)
}

func getMap(m map[string]interface{}, key string) (map[string]interface{}, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, false
	}
	switch t := v.(type) {
	case map[string]interface{}:
		return t, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, vv := range t {
			out[fmt.Sprint(k)] = vv
		}
		return out, true
	default:
		return nil, false
	}
}

func getString(m map[string]interface{}, key string) (string, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", false
	}
	return fmt.Sprint(v), true
}

func getBool(m map[string]interface{}, key string) (bool, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func getList(m map[string]interface{}, key string) ([]string, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, false
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		out = append(out, fmt.Sprint(e))
	}
	return out, true
}

func parseEndpoint(logger *log.Logger, cnf map[string]interface{}, k string) (Endpoint, error) {
	var ep Endpoint
	blk, ok := getMap(cnf, k)
	if !ok {
		return ep, missing(logger, k)
	}
	if s, ok := getString(blk, "scm"); ok {
		ep.SCM = s
	} else {
		return ep, missing(logger, k+".scm")
	}
	cache, ok := getMap(blk, "cache")
	if !ok {
		return ep, missing(logger, k+".cache")
	}
	for _, kc := range []string{"url", "cgi", "path"} {
		s, ok := getString(cache, kc)
		if !ok {
			return ep, missing(logger, k+".cache."+kc)
		}
		switch kc {
		case "url":
			ep.Cache.URL = s
		case "cgi":
			ep.Cache.CGI = s
		case "path":
			ep.Cache.Path = s
		}
	}
	if s, ok := getString(blk, "profile"); ok {
		ep.Profile = s
	} else {
		return ep, missing(logger, k+".profile")
	}
	if s, ok := getString(blk, "mbs"); ok {
		ep.MBS = s
	} else {
		return ep, missing(logger, k+".mbs")
	}
	return ep, nil
}

func parseTemplate(logger *log.Logger, cnf map[string]interface{}, dk string) (Template, error) {
	var t Template
	blk, ok := getMap(cnf, dk)
	if !ok {
		return t, missing(logger, "defaults."+dk)
	}
	if s, ok := getString(blk, "source"); ok {
		t.Source = s
	} else {
		return t, missing(logger, "defaults."+dk+".source")
	}
	if s, ok := getString(blk, "destination"); ok {
		t.Destination = s
	} else {
		return t, missing(logger, "defaults."+dk+".destination")
	}
	return t, nil
}

func parseMain(logger *log.Logger, cnf map[string]interface{}) (*Main, error) {
	var n Main

	src, err := parseEndpoint(logger, cnf, "source")
	if err != nil {
		return nil, err
	}
	n.Source = src
	dst, err := parseEndpoint(logger, cnf, "destination")
	if err != nil {
		return nil, err
	}
	n.Destination = dst

	trig, ok := getMap(cnf, "trigger")
	if !ok {
		return nil, missing(logger, "trigger")
	}
	if s, ok := getString(trig, "rpms"); ok {
		n.Trigger.RPMs = s
	} else {
		return nil, missing(logger, "trigger.rpms")
	}
	if s, ok := getString(trig, "modules"); ok {
		n.Trigger.Modules = s
	} else {
		return nil, missing(logger, "trigger.modules")
	}

	build, ok := getMap(cnf, "build")
	if !ok {
		return nil, missing(logger, "build")
	}
	if s, ok := getString(build, "prefix"); ok {
		n.Build.Prefix = s
	} else {
		return nil, missing(logger, "build.prefix")
	}
	if s, ok := getString(build, "target"); ok {
		n.Build.Target = s
	} else {
		return nil, missing(logger, "build.target")
	}
	if b, ok := getBool(build, "scratch"); ok {
		n.Build.Scratch = b
	} else {
		logger.Printf("configuration warning: build.scratch not defined, assuming false")
		n.Build.Scratch = false
	}

	git, ok := getMap(cnf, "git")
	if !ok {
		return nil, missing(logger, "git")
	}
	for _, k := range []string{"author", "email", "message"} {
		s, ok := getString(git, k)
		if !ok {
			return nil, missing(logger, "git."+k)
		}
		switch k {
		case "author":
			n.Git.Author = s
		case "email":
			n.Git.Email = s
		case "message":
			n.Git.Message = s
		}
	}

	ctrl, ok := getMap(cnf, "control")
	if !ok {
		return nil, missing(logger, "control")
	}
	for _, k := range []string{"build", "merge", "strict"} {
		b, ok := getBool(ctrl, k)
		if !ok {
			return nil, missing(logger, "control."+k)
		}
		switch k {
		case "build":
			n.Control.Build = b
		case "merge":
			n.Control.Merge = b
		case "strict":
			n.Control.Strict = b
		}
	}
	n.Control.Exclude = Exclude{RPMs: map[string]struct{}{}, Modules: map[string]struct{}{}}
	if excl, ok := getMap(ctrl, "exclude"); ok {
		if l, ok := getList(excl, "rpms"); ok {
			for _, c := range l {
				n.Control.Exclude.RPMs[c] = struct{}{}
			}
		}
		if l, ok := getList(excl, "modules"); ok {
			for _, c := range l {
				n.Control.Exclude.Modules[c] = struct{}{}
			}
		}
	}
	for ns, set := range map[string]map[string]struct{}{"rpms": n.Control.Exclude.RPMs, "modules": n.Control.Exclude.Modules} {
		if len(set) > 0 {
			logger.Printf("excluding %d component(s) from the %s namespace", len(set), ns)
		} else {
			logger.Printf("not excluding any components from the %s namespace", ns)
		}
	}

	def, ok := getMap(cnf, "defaults")
	if !ok {
		return nil, missing(logger, "defaults")
	}
	cacheT, err := parseTemplate(logger, def, "cache")
	if err != nil {
		return nil, err
	}
	n.Defaults.Cache = cacheT
	rpmsT, err := parseTemplate(logger, def, "rpms")
	if err != nil {
		return nil, err
	}
	n.Defaults.RPMs = rpmsT
	modsT, err := parseTemplate(logger, def, "modules")
	if err != nil {
		return nil, err
	}
	n.Defaults.Modules = modsT

	return &n, nil
}

func parseComponents(logger *log.Logger, components map[string]interface{}, main *Main) (*Comps, error) {
	nc := &Comps{RPMs: map[string]Component{}, Modules: map[string]Component{}}
	if components == nil {
		return nc, nil
	}
	for _, ns := range []NS{RPMs, Modules} {
		blk, ok := getMap(components, string(ns))
		if !ok {
			continue
		}
		tmpl := main.Defaults.RPMs
		if ns == Modules {
			tmpl = main.Defaults.Modules
		}
		for key := range blk {
			cname, sname := key, ""
			if ns == Modules {
				mn := scmurl.SplitModule(key)
				cname, sname = mn.Name, mn.Stream
			}
			c := Component{
				Source:      expand(tmpl.Source, key, cname, sname),
				Destination: expand(tmpl.Destination, key, cname, sname),
				Cache: CacheOverride{
					Source:      expand(main.Defaults.Cache.Source, key, cname, sname),
					Destination: expand(main.Defaults.Cache.Destination, key, cname, sname),
				},
			}
			if override, ok := getMap(blk, key); ok {
				if s, ok := getString(override, "source"); ok {
					c.Source = s
				}
				if s, ok := getString(override, "destination"); ok {
					c.Destination = s
				}
				if cacheOverride, ok := getMap(override, "cache"); ok {
					if s, ok := getString(cacheOverride, "source"); ok {
						c.Cache.Source = s
					}
					if s, ok := getString(cacheOverride, "destination"); ok {
						c.Cache.Destination = s
					}
				}
			}
			switch ns {
			case RPMs:
				nc.RPMs[key] = c
			case Modules:
				nc.Modules[key] = c
			}
		}
		logger.Printf("found %d configured component(s) in the %s namespace", len(blk), ns)
	}
	return nc, nil
}
