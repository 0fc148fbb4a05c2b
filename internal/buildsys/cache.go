package buildsys

import (
	"context"
	"net/http"
	"sync"

	"github.com/fedora-infra/distrobaker/internal/config"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/xerrors"
)

// Cache memoizes one Session per Role, establishing each lazily on first
// use and never caching a failed attempt (spec.md §4.4). Concurrent
// callers requesting the same role while a connection is in flight share
// the single in-progress attempt via singleflight, rather than each
// opening their own session.
type Cache struct {
	store *config.Store
	auth  oauth2.TokenSource

	group singleflight.Group

	mu       sync.Mutex
	sessions map[Role]Session
}

// NewCache builds a session cache reading endpoints from store. Endpoints
// are read from the store only when a role's session is established; a
// session that is already memoized keeps the endpoint it was created with,
// so a configuration reload (spec.md §4.3 SIGHUP) does not change it. auth
// supplies credentials for the destination (authenticated) session; it
// may be nil if the destination session will never be requested (e.g. a
// dry-run, read-only invocation).
func NewCache(store *config.Store, auth oauth2.TokenSource) *Cache {
	return &Cache{
		store:    store,
		auth:     auth,
		sessions: make(map[Role]Session),
	}
}

// Get returns the memoized Session for role, establishing it if this is
// the first request for that role. A failed establishment attempt is
// never cached: the next Get for the same role tries again from scratch.
func (c *Cache) Get(ctx context.Context, role Role) (Session, error) {
	c.mu.Lock()
	if s, ok := c.sessions[role]; ok {
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(role.String(), func() (interface{}, error) {
		c.mu.Lock()
		if s, ok := c.sessions[role]; ok {
			c.mu.Unlock()
			return s, nil
		}
		c.mu.Unlock()

		s, err := c.connect(ctx, role)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.sessions[role] = s
		c.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Session), nil
}

func (c *Cache) connect(_ context.Context, role Role) (Session, error) {
	cfg := c.store.Get()
	if cfg == nil {
		return nil, xerrors.New("not configured")
	}

	var endpoint config.Endpoint
	switch role {
	case Source:
		endpoint = cfg.Main.Source
	case Destination:
		endpoint = cfg.Main.Destination
	default:
		return nil, xerrors.Errorf("unknown build-system role %v", role)
	}

	hc := http.DefaultClient
	if role == Destination {
		if c.auth == nil {
			return nil, xerrors.New("destination session requires credentials but none were configured")
		}
		hc = &http.Client{Transport: &gssapiTransport{source: c.auth}}
	}

	return &xmlrpcSession{
		rpc:     newXMLRPCClient(endpoint.Profile, hc),
		profile: endpoint.Profile,
		role:    role,
	}, nil
}
