package restore

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/xmatters-labs/restore-instance-data/pkg/logging"
	"github.com/xmatters-labs/restore-instance-data/pkg/xmapi"
)

// Kind names an entity namespace on the target instance.
type Kind string

const (
	KindSite   Kind = "site"
	KindUser   Kind = "user"
	KindGroup  Kind = "group"
	KindDevice Kind = "device"

	// Shifts and members are only counted, never looked up.
	kindShift  Kind = "shift"
	kindMember Kind = "member"
)

func (k Kind) lookupPath(name string) string {
	switch k {
	case KindSite:
		return xmapi.Path("sites", name)
	case KindUser:
		return xmapi.Path("people", name)
	case KindGroup:
		return xmapi.Path("groups", name)
	default:
		return xmapi.Path("devices", name)
	}
}

type entry struct {
	id    string
	found bool
}

// Resolver maps source names to identifiers on the target instance. Each
// name is looked up remotely at most once per run; both hits and 404s are
// remembered. Entries are only ever added, and a known id is never replaced.
type Resolver struct {
	api     API
	logger  *logrus.Entry
	metrics *metrics
	entries map[Kind]map[string]entry
	lookups int
}

func NewResolver(api API, logger *logrus.Entry) *Resolver {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Resolver{
		api:     api,
		logger:  logger,
		metrics: getMetrics(),
		entries: make(map[Kind]map[string]entry),
	}
}

// Resolve returns the target id for name, asking the instance on a cache miss.
func (r *Resolver) Resolve(ctx context.Context, kind Kind, name string) (string, bool) {
	if strings.TrimSpace(name) == "" {
		return "", false
	}
	if e, ok := r.cached(kind, name); ok {
		return e.id, e.found
	}

	r.lookups++
	resp, err := r.api.Get(ctx, kind.lookupPath(name))
	if err != nil {
		r.metrics.lookupsTotal.WithLabelValues(string(kind), "error").Inc()
		r.logger.WithError(err).Errorf("Unable to look up %s %q", kind, name)
		return "", false
	}
	switch {
	case resp.OK():
		id := gjson.GetBytes(resp.Body, "id").String()
		if id == "" {
			r.metrics.lookupsTotal.WithLabelValues(string(kind), "error").Inc()
			r.logger.Errorf("Lookup of %s %q returned no id", kind, name)
			return "", false
		}
		r.metrics.lookupsTotal.WithLabelValues(string(kind), "found").Inc()
		r.put(kind, name, entry{id: id, found: true})
		r.logger.Debugf("Found %s %q - Id: %s", kind, name, id)
		return id, true
	case resp.NotFound():
		r.metrics.lookupsTotal.WithLabelValues(string(kind), "not_found").Inc()
		r.put(kind, name, entry{})
		r.logger.Warnf("Unable to find %s %q", kind, name)
		return "", false
	default:
		r.metrics.lookupsTotal.WithLabelValues(string(kind), "error").Inc()
		r.logger.Errorf("Lookup of %s %q failed: %v", kind, name, resp.Err())
		return "", false
	}
}

// Record stores the id of an entity this run created or updated. A name that
// already resolved keeps its first id.
func (r *Resolver) Record(kind Kind, name, id string) {
	if name == "" || id == "" {
		return
	}
	if e, ok := r.cached(kind, name); ok && e.found {
		if e.id != id {
			r.logger.Debugf("Keeping %s %q as %s, ignoring %s", kind, name, e.id, id)
		}
		return
	}
	r.put(kind, name, entry{id: id, found: true})
}

// Known reports a cached resolution without going remote.
func (r *Resolver) Known(kind Kind, name string) (id string, found, ok bool) {
	e, ok := r.cached(kind, name)
	return e.id, e.found, ok
}

// Lookups is the number of remote lookups issued so far.
func (r *Resolver) Lookups() int { return r.lookups }

func (r *Resolver) cached(kind Kind, name string) (entry, bool) {
	e, ok := r.entries[kind][name]
	return e, ok
}

func (r *Resolver) put(kind Kind, name string, e entry) {
	m, ok := r.entries[kind]
	if !ok {
		m = make(map[string]entry)
		r.entries[kind] = m
	}
	m[name] = e
}
