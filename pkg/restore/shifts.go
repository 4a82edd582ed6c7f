package restore

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/xmatters-labs/restore-instance-data/pkg/capture"
	"github.com/xmatters-labs/restore-instance-data/pkg/xmapi"
)

// ShiftRestorer replaces the shifts of restored groups and then fills in
// their members. Shifts are recreated for every group before any member is
// added, so members may reference groups restored later in the file.
type ShiftRestorer struct {
	s *Session

	// Groups and MemberShifts count what each phase has visited.
	Groups       int
	MemberShifts int
}

func NewShiftRestorer(s *Session) *ShiftRestorer {
	return &ShiftRestorer{s: s}
}

// RestoreShifts recreates the captured shifts of one group record.
func (r *ShiftRestorer) RestoreShifts(ctx context.Context, rec capture.Record) Tally {
	var t Tally
	g, err := ParseGroup(rec)
	if err != nil {
		r.s.Logger.WithError(err).Error("Skipping shifts of group record")
		return t
	}
	r.Groups++
	log := r.s.Logger.WithField("group", g.TargetName)

	groupID, ok := r.s.Resolver.Resolve(ctx, KindGroup, g.TargetName)
	if !ok {
		log.WithError(unresolved(KindGroup, g.TargetName)).Errorf("Unable to restore %d Shifts", len(g.Shifts))
		t.FailAll(len(g.Shifts))
		return t
	}

	hasDefault := false
	for _, raw := range g.Shifts {
		if ctx.Err() != nil {
			return t
		}
		sh, err := ParseShift(raw)
		if err != nil {
			log.WithError(err).Error("Skipping shift")
			t.Add(r.s.count(kindShift, OutcomeFailed))
			continue
		}
		if sh.Name == r.s.DefaultShiftName {
			hasDefault = true
		}
		t.Add(r.s.count(kindShift, r.restoreShift(ctx, groupID, g.TargetName, sh)))
	}

	if !hasDefault && r.s.DefaultShiftName != "" && ctx.Err() == nil {
		r.deleteShift(ctx, groupID, g.TargetName, r.s.DefaultShiftName)
	}
	log.Debugf("Added %d of a possible %d Shifts for Group %s", t.Succeeded(), len(g.Shifts), g.TargetName)
	return t
}

func (r *ShiftRestorer) restoreShift(ctx context.Context, groupID, groupName string, sh ShiftRecord) Outcome {
	name := groupName + "|" + sh.Name
	log := r.s.Logger.WithField("shift", name)

	payload, err := BuildShiftPayload(sh)
	if err != nil {
		log.WithError(err).Errorf("Unable to build Shift %q", name)
		return OutcomeFailed
	}

	// The instance answers 501 when a shift that was just deleted is still
	// being torn down; that shift is left as it is.
	var opts []xmapi.CallOption
	deleted := r.deleteShift(ctx, groupID, groupName, sh.Name)
	if deleted {
		opts = append(opts, xmapi.WithoutRetryOn(http.StatusNotImplemented))
	}
	resp, err := r.s.API.Post(ctx, xmapi.Path("groups", groupID, "shifts"), payload, opts...)
	if err != nil {
		log.WithError(err).Errorf("Unable to restore Shift %q", name)
		return OutcomeFailed
	}
	switch {
	case deleted && resp.StatusCode == http.StatusNotImplemented:
		log.Infof("Shift %q already exists, skipping", name)
		return OutcomeSkipped
	case !resp.OK():
		r.s.remoteError(log, resp, "Unable to restore Shift %q", name)
		return OutcomeFailed
	}
	log.Infof("Created Shift %q - Id: %s", name, gjson.GetBytes(resp.Body, "id").String())
	return OutcomeCreated
}

// deleteShift removes a shift by name and reports whether it existed.
func (r *ShiftRestorer) deleteShift(ctx context.Context, groupID, groupName, shiftName string) bool {
	log := r.s.Logger.WithField("shift", groupName+"|"+shiftName)
	resp, err := r.s.API.Delete(ctx, xmapi.Path("groups", groupID, "shifts", shiftName))
	if err != nil {
		log.WithError(err).Errorf("Unable to delete Shift %q from Group %q", shiftName, groupName)
		return false
	}
	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent:
		log.Debugf("Deleted Shift %q from Group %q", shiftName, groupName)
		return true
	case resp.NotFound():
		log.Debugf("Shift %q was not found in Group %q", shiftName, groupName)
		return false
	default:
		r.s.remoteError(log, resp, "Unable to delete Shift %q from Group %q", shiftName, groupName)
		return false
	}
}

// RestoreMembers adds the members of every captured shift of one group.
func (r *ShiftRestorer) RestoreMembers(ctx context.Context, rec capture.Record) Tally {
	var t Tally
	g, err := ParseGroup(rec)
	if err != nil {
		r.s.Logger.WithError(err).Error("Skipping members of group record")
		return t
	}
	log := r.s.Logger.WithField("group", g.TargetName)

	shifts := make([]ShiftRecord, 0, len(g.Shifts))
	members := 0
	for _, raw := range g.Shifts {
		sh, err := ParseShift(raw)
		if err != nil {
			continue
		}
		shifts = append(shifts, sh)
		members += len(sh.Members)
	}
	if members == 0 {
		return t
	}

	groupID, ok := r.s.Resolver.Resolve(ctx, KindGroup, g.TargetName)
	if !ok {
		log.WithError(unresolved(KindGroup, g.TargetName)).Errorf("Unable to restore %d Members", members)
		t.FailAll(members)
		return t
	}
	for _, sh := range shifts {
		if len(sh.Members) == 0 {
			continue
		}
		r.MemberShifts++
		for _, raw := range sh.Members {
			if ctx.Err() != nil {
				return t
			}
			t.Add(r.s.count(kindMember, r.restoreMember(ctx, groupID, g.TargetName, sh.Name, raw)))
		}
	}
	return t
}

func (r *ShiftRestorer) restoreMember(ctx context.Context, groupID, groupName, shiftName string, raw json.RawMessage) Outcome {
	log := r.s.Logger.WithField("shift", groupName+"|"+shiftName)
	m, err := ParseMember(raw)
	if err != nil {
		log.WithError(err).Error("Skipping shift member")
		return OutcomeFailed
	}
	log = log.WithField("member", m.RecipientName)

	recipientID, ok := r.s.Resolver.Resolve(ctx, m.RecipientKind(), m.RecipientName)
	if !ok {
		log.WithError(unresolved(m.RecipientKind(), m.RecipientName)).Errorf("Unable to add Member to Shift %q", shiftName)
		return OutcomeFailed
	}
	payload, err := BuildMemberPayload(m, recipientID)
	if err != nil {
		log.WithError(err).Errorf("Unable to build Member %q", m.RecipientName)
		return OutcomeFailed
	}
	resp, err := r.s.API.Post(ctx, xmapi.Path("groups", groupID, "shifts", shiftName, "members"), payload)
	if err != nil {
		log.WithError(err).Errorf("Unable to add Member %q", m.RecipientName)
		return OutcomeFailed
	}
	switch {
	case resp.Conflict():
		log.Debugf("%q is already a Member of Shift %q", m.RecipientName, shiftName)
		return OutcomeSkipped
	case !resp.OK():
		r.s.remoteError(log, resp, "Unable to add Member %q to Shift %q", m.RecipientName, shiftName)
		return OutcomeFailed
	}
	log.Debugf("Added Member %q to Shift %q", m.RecipientName, shiftName)
	return OutcomeCreated
}
