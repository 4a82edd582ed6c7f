package restore

import (
	"context"

	"github.com/xmatters-labs/restore-instance-data/pkg/capture"
	"github.com/xmatters-labs/restore-instance-data/pkg/xmapi"
)

type pendingSupervisors struct {
	userID      string
	targetName  string
	supervisors []string
}

// UserRestorer creates users and, optionally, their devices. Supervisors may
// reference users later in the file, so they are attached by
// AttachSupervisors once every user exists.
type UserRestorer struct {
	s       *Session
	devices *DeviceRestorer
	pending []pendingSupervisors

	// Devices accumulates the device outcomes when devices are restored inline.
	Devices Tally
}

// NewUserRestorer returns a restorer that also restores each user's devices
// when withDevices is set.
func NewUserRestorer(s *Session, withDevices bool) *UserRestorer {
	r := &UserRestorer{s: s}
	if withDevices {
		r.devices = NewDeviceRestorer(s)
	}
	return r
}

func (r *UserRestorer) Restore(ctx context.Context, rec capture.Record) Outcome {
	u, err := ParseUser(rec)
	if err != nil {
		r.s.Logger.WithError(err).Error("Skipping user")
		return r.s.count(KindUser, OutcomeFailed)
	}
	log := r.s.Logger.WithField("user", u.TargetName)

	if u.CompanyAdmin() {
		log.Warnf("Unable to add internal xMatters User with Role %q: %s (%s)", companyAdminRole, u.DisplayName(), u.TargetName)
		return r.s.count(KindUser, OutcomeSkipped)
	}

	siteID, ok := r.s.Resolver.Resolve(ctx, KindSite, u.Site)
	if !ok {
		log.WithError(unresolved(KindSite, u.Site)).Errorf("Unable to restore User %q", u.TargetName)
		if r.devices != nil {
			r.Devices.FailAll(len(u.Devices))
		}
		return r.s.count(KindUser, OutcomeFailed)
	}

	payload, err := BuildUserPayload(u, siteID)
	if err != nil {
		log.WithError(err).Errorf("Unable to build User %q", u.TargetName)
		return r.s.count(KindUser, OutcomeFailed)
	}
	id, outcome := r.s.upsert(ctx, KindUser, u.TargetName, xmapi.Path("people"), payload, log)
	if outcome == OutcomeFailed {
		if r.devices != nil {
			r.Devices.FailAll(len(u.Devices))
		}
		return r.s.count(KindUser, outcome)
	}

	if len(u.Supervisors) > 0 {
		r.pending = append(r.pending, pendingSupervisors{userID: id, targetName: u.TargetName, supervisors: u.Supervisors})
	}

	verb := "Created"
	if outcome == OutcomeUpdated {
		verb = "Updated"
	}
	if r.devices == nil {
		log.Infof("%s User %q - Id: %s", verb, u.TargetName, id)
		return r.s.count(KindUser, outcome)
	}
	t := r.devices.RestoreAll(ctx, id, u.TargetName, u.Devices)
	r.Devices.Merge(t)
	log.Infof("%s User %q - Id: %s and added %d Devices", verb, u.TargetName, id, t.Succeeded())
	return r.s.count(KindUser, outcome)
}

// AttachSupervisors sets the supervisors of every user restored so far.
// Supervisors that cannot be resolved are dropped with a warning.
func (r *UserRestorer) AttachSupervisors(ctx context.Context) Tally {
	var t Tally
	for _, p := range r.pending {
		if ctx.Err() != nil {
			break
		}
		log := r.s.Logger.WithField("user", p.targetName)
		ids := make([]string, 0, len(p.supervisors))
		for _, name := range p.supervisors {
			id, ok := r.s.Resolver.Resolve(ctx, KindUser, name)
			if !ok {
				log.Warnf("Unable to find Supervisor (%s) for User (%s)", name, p.targetName)
				continue
			}
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			log.Debugf("No resolvable Supervisors for User %q", p.targetName)
			t.Add(OutcomeSkipped)
			continue
		}

		payload, err := BuildSupervisorPayload(p.userID, p.targetName, ids)
		if err != nil {
			log.WithError(err).Errorf("Unable to build Supervisors for User %q", p.targetName)
			t.Add(OutcomeFailed)
			continue
		}
		resp, err := r.s.API.Post(ctx, xmapi.Path("people"), payload)
		if err != nil {
			log.WithError(err).Errorf("Unable to update Supervisors for User %q", p.targetName)
			t.Add(OutcomeFailed)
			continue
		}
		if !resp.OK() {
			r.s.remoteError(log, resp, "Unable to update Supervisors for User %q", p.targetName)
			t.Add(OutcomeFailed)
			continue
		}
		log.Infof("Updated Supervisors for User %q - Id: %s", p.targetName, p.userID)
		t.Add(OutcomeUpdated)
	}
	r.pending = nil
	return t
}
