package restore

import (
	"context"
	"encoding/json"

	"github.com/xmatters-labs/restore-instance-data/pkg/capture"
	"github.com/xmatters-labs/restore-instance-data/pkg/xmapi"
)

type DeviceRestorer struct {
	s *Session

	// Owners counts the user records the standalone stage has visited.
	Owners int
}

func NewDeviceRestorer(s *Session) *DeviceRestorer {
	return &DeviceRestorer{s: s}
}

// RestoreFromUser restores the devices of a captured user record whose owner
// must already exist on the target instance.
func (r *DeviceRestorer) RestoreFromUser(ctx context.Context, rec capture.Record) Tally {
	r.Owners++
	u, err := ParseUser(rec)
	if err != nil {
		r.s.Logger.WithError(err).Error("Skipping devices of user record")
		var t Tally
		t.FailAll(len(rec.Get("devices.data").Array()))
		return t
	}
	if len(u.Devices) == 0 {
		return Tally{}
	}
	ownerID, ok := r.s.Resolver.Resolve(ctx, KindUser, u.TargetName)
	if !ok {
		r.s.Logger.WithField("user", u.TargetName).
			WithError(unresolved(KindUser, u.TargetName)).
			Errorf("Unable to restore %d Devices", len(u.Devices))
		var t Tally
		t.FailAll(len(u.Devices))
		return t
	}
	return r.RestoreAll(ctx, ownerID, u.TargetName, u.Devices)
}

// RestoreAll restores devices for one owner.
func (r *DeviceRestorer) RestoreAll(ctx context.Context, ownerID, ownerName string, devices []json.RawMessage) Tally {
	var t Tally
	for _, raw := range devices {
		if ctx.Err() != nil {
			break
		}
		t.Add(r.restore(ctx, ownerID, ownerName, raw))
	}
	r.s.Logger.WithField("user", ownerName).
		Debugf("Added %d of a possible %d devices for %s", t.Succeeded(), len(devices), ownerName)
	return t
}

func (r *DeviceRestorer) restore(ctx context.Context, ownerID, ownerName string, raw []byte) Outcome {
	d, err := ParseDevice(raw)
	if err != nil {
		r.s.Logger.WithField("user", ownerName).WithError(err).Error("Skipping device")
		return r.s.count(KindDevice, OutcomeFailed)
	}
	key := DeviceKey(ownerName, d.Name)
	log := r.s.Logger.WithField("device", key)

	payload, err := BuildDevicePayload(d, ownerID)
	if err != nil {
		log.WithError(err).Errorf("Unable to build Device %q", key)
		return r.s.count(KindDevice, OutcomeFailed)
	}
	id, outcome := r.s.upsert(ctx, KindDevice, key, xmapi.Path("devices"), payload, log)
	switch outcome {
	case OutcomeCreated:
		log.Debugf("Created Device %q - Id: %s", key, id)
	case OutcomeUpdated:
		log.Debugf("Updated Device %q - Id: %s", key, id)
	}
	return r.s.count(KindDevice, outcome)
}
