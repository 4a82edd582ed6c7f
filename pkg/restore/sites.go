package restore

import (
	"context"

	"github.com/xmatters-labs/restore-instance-data/pkg/capture"
	"github.com/xmatters-labs/restore-instance-data/pkg/xmapi"
)

type SiteRestorer struct {
	s *Session
}

func NewSiteRestorer(s *Session) *SiteRestorer {
	return &SiteRestorer{s: s}
}

func (r *SiteRestorer) Restore(ctx context.Context, rec capture.Record) Outcome {
	name := rec.Get("name").String()
	log := r.s.Logger.WithField("site", name)
	if name == "" {
		log.WithError(invalidRecord("site record has no name")).Error("Skipping site")
		return r.s.count(KindSite, OutcomeFailed)
	}

	payload, err := strip(rec, sourceOnlyFields...)
	if err != nil {
		log.WithError(err).Errorf("Unable to build Site %q", name)
		return r.s.count(KindSite, OutcomeFailed)
	}
	id, outcome := r.s.upsert(ctx, KindSite, name, xmapi.Path("sites"), payload, log)
	switch outcome {
	case OutcomeCreated:
		log.Infof("Created Site %q - Id: %s", name, id)
	case OutcomeUpdated:
		log.Infof("Updated Site %q - Id: %s", name, id)
	}
	return r.s.count(KindSite, outcome)
}
