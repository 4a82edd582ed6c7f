package restore

import (
	"context"

	"github.com/xmatters-labs/restore-instance-data/pkg/capture"
	"github.com/xmatters-labs/restore-instance-data/pkg/xmapi"
)

type GroupRestorer struct {
	s *Session
}

func NewGroupRestorer(s *Session) *GroupRestorer {
	return &GroupRestorer{s: s}
}

// Restore creates or updates a group. An unknown site or supervisor is left
// off the group instead of failing it.
func (r *GroupRestorer) Restore(ctx context.Context, rec capture.Record) Outcome {
	g, err := ParseGroup(rec)
	if err != nil {
		r.s.Logger.WithError(err).Error("Skipping group")
		return r.s.count(KindGroup, OutcomeFailed)
	}
	log := r.s.Logger.WithField("group", g.TargetName)

	var siteID string
	if g.Site != "" {
		id, ok := r.s.Resolver.Resolve(ctx, KindSite, g.Site)
		if ok {
			siteID = id
		} else {
			log.Warnf("Unable to find Site (%s) for Group (%s), restoring without it", g.Site, g.TargetName)
		}
	}
	supervisorIDs := make([]string, 0, len(g.Supervisors))
	for _, name := range g.Supervisors {
		id, ok := r.s.Resolver.Resolve(ctx, KindUser, name)
		if !ok {
			log.Warnf("Unable to find Supervisor (%s) for Group (%s)", name, g.TargetName)
			continue
		}
		supervisorIDs = append(supervisorIDs, id)
	}

	payload, err := BuildGroupPayload(g, siteID, supervisorIDs)
	if err != nil {
		log.WithError(err).Errorf("Unable to build Group %q", g.TargetName)
		return r.s.count(KindGroup, OutcomeFailed)
	}
	id, outcome := r.s.upsert(ctx, KindGroup, g.TargetName, xmapi.Path("groups"), payload, log)
	switch outcome {
	case OutcomeCreated:
		log.Infof("Created Group %q - Id: %s", g.TargetName, id)
	case OutcomeUpdated:
		log.Infof("Updated Group %q - Id: %s", g.TargetName, id)
	}
	return r.s.count(KindGroup, outcome)
}
