package restore

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/xmatters-labs/restore-instance-data/pkg/logging"
	"github.com/xmatters-labs/restore-instance-data/pkg/xmapi"
)

// API is the part of the xMatters client the restorers use.
type API interface {
	Get(ctx context.Context, path string, opts ...xmapi.CallOption) (*xmapi.Response, error)
	Post(ctx context.Context, path string, body []byte, opts ...xmapi.CallOption) (*xmapi.Response, error)
	Delete(ctx context.Context, path string, opts ...xmapi.CallOption) (*xmapi.Response, error)
}

// Session is the state of one restore run shared by every restorer.
type Session struct {
	API      API
	Resolver *Resolver
	Logger   *logrus.Entry

	// DefaultShiftName is the shift the instance adds to every new group.
	DefaultShiftName string

	metrics *metrics
}

func NewSession(api API, logger *logrus.Entry, defaultShiftName string) *Session {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Session{
		API:              api,
		Resolver:         NewResolver(api, logger),
		Logger:           logger,
		DefaultShiftName: defaultShiftName,
		metrics:          getMetrics(),
	}
}

func (s *Session) count(kind Kind, o Outcome) Outcome {
	s.metrics.recordsTotal.WithLabelValues(string(kind), o.String()).Inc()
	return o
}

// upsert creates an entity. When the name is already taken the existing id
// is looked up and the same payload is posted once more as an update.
func (s *Session) upsert(ctx context.Context, kind Kind, name, path string, payload []byte, log *logrus.Entry) (string, Outcome) {
	resp, err := s.API.Post(ctx, path, payload)
	if err != nil {
		log.WithError(err).Errorf("Unable to restore %s %q", kind, name)
		return "", OutcomeFailed
	}
	if resp.Conflict() {
		id, ok := s.Resolver.Resolve(ctx, kind, name)
		if !ok {
			log.Errorf("%s %q already exists but could not be looked up", kind, name)
			return "", OutcomeFailed
		}
		log.Debugf("%s %q already exists as %s, updating", kind, name, id)
		if payload, err = withID(payload, id); err != nil {
			log.WithError(err).Errorf("Unable to build update for %s %q", kind, name)
			return "", OutcomeFailed
		}
		if resp, err = s.API.Post(ctx, path, payload); err != nil {
			log.WithError(err).Errorf("Unable to update %s %q", kind, name)
			return "", OutcomeFailed
		}
	}
	if !resp.OK() {
		s.remoteError(log, resp, "Unable to restore %s %q", kind, name)
		return "", OutcomeFailed
	}
	id := gjson.GetBytes(resp.Body, "id").String()
	s.Resolver.Record(kind, name, id)
	if resp.Created() {
		return id, OutcomeCreated
	}
	return id, OutcomeUpdated
}

// remoteError logs a non-success response. Not found is only a warning.
func (s *Session) remoteError(log *logrus.Entry, resp *xmapi.Response, format string, args ...any) {
	entry := log.WithField("status", resp.StatusCode)
	if apiErr := resp.Err(); apiErr != nil {
		entry = entry.WithError(apiErr)
	}
	if resp.NotFound() {
		entry.Warnf(format, args...)
		return
	}
	entry.Errorf(format, args...)
}
