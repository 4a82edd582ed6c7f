package restore

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/xmatters-labs/restore-instance-data/pkg/capture"
)

const companyAdminRole = "Company Admin"

// Fields that only make sense on the source instance.
var sourceOnlyFields = []string{"id", "links"}

// UserRecord is a captured user with its cross-entity references pulled out.
type UserRecord struct {
	TargetName  string
	FirstName   string
	LastName    string
	Site        string
	Roles       []string
	Supervisors []string
	Devices     []json.RawMessage
	raw         []byte
}

func (u UserRecord) CompanyAdmin() bool {
	for _, r := range u.Roles {
		if r == companyAdminRole {
			return true
		}
	}
	return false
}

func (u UserRecord) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// ParseUser reads a captured user record. The record either wraps the user
// in a "user" object next to its "devices" or is the user object itself.
func ParseUser(rec capture.Record) (UserRecord, error) {
	obj := gjson.ParseBytes(rec)
	if u := obj.Get("user"); u.IsObject() {
		obj = u
	}
	u := UserRecord{
		TargetName: obj.Get("targetName").String(),
		FirstName:  obj.Get("firstName").String(),
		LastName:   obj.Get("lastName").String(),
		Site:       nameOf(obj.Get("site")),
		raw:        []byte(obj.Raw),
	}
	if u.TargetName == "" {
		return UserRecord{}, invalidRecord("user record has no targetName")
	}
	for _, r := range collection(obj.Get("roles")) {
		u.Roles = append(u.Roles, nameOf(r))
	}
	for _, s := range collection(obj.Get("supervisors")) {
		if name := targetNameOf(s); name != "" {
			u.Supervisors = append(u.Supervisors, name)
		}
	}
	for _, d := range collection(gjson.GetBytes(rec, "devices")) {
		u.Devices = append(u.Devices, json.RawMessage(d.Raw))
	}
	return u, nil
}

// BuildUserPayload produces the creation body for a user whose site resolved
// to siteID. Supervisors are attached in a later pass.
func BuildUserPayload(u UserRecord, siteID string) ([]byte, error) {
	out, err := strip(u.raw, append(sourceOnlyFields, "roles", "supervisors")...)
	if err != nil {
		return nil, err
	}
	if out, err = sjson.SetBytes(out, "site", siteID); err != nil {
		return nil, err
	}
	if len(u.Roles) > 0 {
		if out, err = sjson.SetBytes(out, "roles", u.Roles); err != nil {
			return nil, err
		}
	}
	return sjson.SetBytes(out, "supervisors", []string{})
}

// BuildSupervisorPayload produces the update body that attaches supervisors to
// an already restored user.
func BuildSupervisorPayload(userID, targetName string, supervisorIDs []string) ([]byte, error) {
	return json.Marshal(struct {
		ID          string   `json:"id"`
		TargetName  string   `json:"targetName"`
		Supervisors []string `json:"supervisors"`
	}{userID, targetName, supervisorIDs})
}

type DeviceRecord struct {
	Name string
	raw  []byte
}

func ParseDevice(raw []byte) (DeviceRecord, error) {
	name := gjson.GetBytes(raw, "name").String()
	if name == "" {
		return DeviceRecord{}, invalidRecord("device record has no name")
	}
	return DeviceRecord{Name: name, raw: raw}, nil
}

// DeviceKey is the name a device is looked up by: its owner and device name.
func DeviceKey(owner, device string) string {
	return owner + "|" + device
}

// BuildDevicePayload produces the creation body for a device owned by ownerID.
// Captured timeframes are sent as a plain list, or dropped when empty.
func BuildDevicePayload(d DeviceRecord, ownerID string) ([]byte, error) {
	out, err := strip(d.raw, append(sourceOnlyFields, "targetName")...)
	if err != nil {
		return nil, err
	}
	if out, err = sjson.SetBytes(out, "owner", ownerID); err != nil {
		return nil, err
	}
	tf := gjson.GetBytes(out, "timeframes")
	switch {
	case !tf.Exists():
	case tf.IsArray():
	case tf.Get("total").Int() > 0 && tf.Get("data").IsArray():
		out, err = sjson.SetRawBytes(out, "timeframes", []byte(tf.Get("data").Raw))
	default:
		out, err = sjson.DeleteBytes(out, "timeframes")
	}
	return out, err
}

type GroupRecord struct {
	TargetName  string
	Site        string
	Supervisors []string
	Shifts      []json.RawMessage
	raw         []byte
}

func ParseGroup(rec capture.Record) (GroupRecord, error) {
	obj := gjson.ParseBytes(rec)
	if g := obj.Get("group"); g.IsObject() {
		obj = g
	}
	g := GroupRecord{
		TargetName: obj.Get("targetName").String(),
		Site:       nameOf(obj.Get("site")),
		raw:        []byte(obj.Raw),
	}
	if g.TargetName == "" {
		return GroupRecord{}, invalidRecord("group record has no targetName")
	}
	for _, s := range collection(obj.Get("supervisors")) {
		if name := targetNameOf(s); name != "" {
			g.Supervisors = append(g.Supervisors, name)
		}
	}
	for _, sh := range collection(gjson.GetBytes(rec, "shifts")) {
		g.Shifts = append(g.Shifts, json.RawMessage(sh.Raw))
	}
	return g, nil
}

// BuildGroupPayload produces the creation body for a group. An empty siteID
// or supervisor list leaves those fields out.
func BuildGroupPayload(g GroupRecord, siteID string, supervisorIDs []string) ([]byte, error) {
	out, err := strip(g.raw, append(sourceOnlyFields, "site", "supervisors")...)
	if err != nil {
		return nil, err
	}
	if siteID != "" {
		if out, err = sjson.SetBytes(out, "site", siteID); err != nil {
			return nil, err
		}
	}
	if len(supervisorIDs) > 0 {
		if out, err = sjson.SetBytes(out, "supervisors", supervisorIDs); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type ShiftRecord struct {
	Name    string
	Members []json.RawMessage
	raw     []byte
}

func ParseShift(raw []byte) (ShiftRecord, error) {
	s := ShiftRecord{Name: gjson.GetBytes(raw, "name").String(), raw: raw}
	if s.Name == "" {
		return ShiftRecord{}, invalidRecord("shift record has no name")
	}
	for _, m := range collection(gjson.GetBytes(raw, "members")) {
		s.Members = append(s.Members, json.RawMessage(m.Raw))
	}
	return s, nil
}

// BuildShiftPayload produces the creation body for a shift. The owning group
// comes from the request path and members are added separately.
func BuildShiftPayload(s ShiftRecord) ([]byte, error) {
	return strip(s.raw, append(sourceOnlyFields, "group", "members")...)
}

type MemberRecord struct {
	RecipientName string
	RecipientType string
	raw           []byte
}

// RecipientKind is the resolver kind a member's recipient is looked up as.
func (m MemberRecord) RecipientKind() Kind {
	if strings.EqualFold(m.RecipientType, "GROUP") {
		return KindGroup
	}
	return KindUser
}

func ParseMember(raw []byte) (MemberRecord, error) {
	r := gjson.GetBytes(raw, "recipient")
	m := MemberRecord{
		RecipientName: targetNameOf(r),
		RecipientType: r.Get("recipientType").String(),
		raw:           raw,
	}
	if m.RecipientName == "" {
		return MemberRecord{}, invalidRecord("shift member has no recipient")
	}
	return m, nil
}

// BuildMemberPayload produces the body adding a member whose recipient
// resolved to recipientID.
func BuildMemberPayload(m MemberRecord, recipientID string) ([]byte, error) {
	out, err := strip(m.raw, "shift", "links")
	if err != nil {
		return nil, err
	}
	recipient := map[string]string{"id": recipientID}
	if m.RecipientType != "" {
		recipient["recipientType"] = m.RecipientType
	}
	return sjson.SetBytes(out, "recipient", recipient)
}

func strip(raw []byte, paths ...string) ([]byte, error) {
	out := append([]byte(nil), raw...)
	var err error
	for _, p := range paths {
		if out, err = sjson.DeleteBytes(out, p); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func withID(payload []byte, id string) ([]byte, error) {
	return sjson.SetBytes(payload, "id", id)
}

// collection returns the elements of a paginated {"data": [...]} object or a
// bare array.
func collection(v gjson.Result) []gjson.Result {
	if d := v.Get("data"); d.IsArray() {
		return d.Array()
	}
	if v.IsArray() {
		return v.Array()
	}
	return nil
}

// nameOf reads a reference given either as a name string or as an object.
func nameOf(v gjson.Result) string {
	if v.Type == gjson.String {
		return v.String()
	}
	return v.Get("name").String()
}

func targetNameOf(v gjson.Result) string {
	if v.Type == gjson.String {
		return v.String()
	}
	if n := v.Get("targetName").String(); n != "" {
		return n
	}
	return v.Get("name").String()
}
