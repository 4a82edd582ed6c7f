package restore

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/xmatters-labs/restore-instance-data/pkg/capture"
)

func (h *harness) orchestrator(files Files) *Orchestrator {
	return NewOrchestrator(OrchestratorOptions{
		API:              h.api,
		Files:            files,
		Logger:           h.logger,
		DefaultShiftName: "Default Shift",
	})
}

func TestRun_RestoresSingleSite(t *testing.T) {
	h := newHarness(t)
	sites := writeCapture(t, "sites.json", `[{"id":"src","name":"HQ","country":"USA","links":{"self":"/sites/src"}}]`)

	report, err := h.orchestrator(Files{Sites: sites}).Run(context.Background(), NewStages(StageSites))
	require.NoError(t, err)

	res, ok := report.Result(StageSites)
	require.True(t, ok)
	assert.Equal(t, 1, res.Attempted)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Succeeded)
	assert.Contains(t, h.messages(logrus.InfoLevel), "Restored 1 of a possible 1 Sites.")

	body := gjson.ParseBytes(h.fake.bodies["site:HQ"])
	assert.False(t, body.Get("id").Exists())
	assert.False(t, body.Get("links").Exists())
	assert.Equal(t, "USA", body.Get("country").String())
}

func TestRun_CaptureWithCommaBeforeClosingBracket(t *testing.T) {
	h := newHarness(t)
	sites := writeCapture(t, "sites.json", "[\n{\"name\":\"HQ\"},\n]\n")

	report, err := h.orchestrator(Files{Sites: sites}).Run(context.Background(), NewStages(StageSites))
	require.NoError(t, err)

	res, _ := report.Result(StageSites)
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Created)
	assert.False(t, report.Aborted())
	assert.Contains(t, h.messages(logrus.InfoLevel), "Restored 1 of a possible 1 Sites.")
}

func TestRun_MembersFollowShiftsWithCommaBeforeClosingBracket(t *testing.T) {
	h := newHarness(t)
	h.fake.people["jdoe"] = "p-jdoe"
	groups := writeCapture(t, "groups.json", "[\n"+
		`{"group":{"targetName":"Ops"},"shifts":{"data":[{"name":"Day","members":{"data":[{"recipient":{"targetName":"jdoe","recipientType":"PERSON"}}]}}]}},`+
		"\n]\n")

	report, err := h.orchestrator(Files{Groups: groups}).Run(context.Background(), NewStages(StageGroups, StageShifts))
	require.NoError(t, err)
	assert.False(t, report.Aborted())

	members, ok := report.Result(ResultMembers)
	require.True(t, ok)
	assert.Equal(t, 1, members.Created)
	assert.Equal(t, 1, h.fake.count("POST /api/xm/1/groups/"+h.fake.groups["Ops"]+"/shifts/Day/members"))
}

func TestRun_SitesAreIdempotent(t *testing.T) {
	h := newHarness(t)
	sites := writeCapture(t, "sites.json", `[{"name":"HQ"},{"name":"Branch"}]`)
	o := h.orchestrator(Files{Sites: sites})

	first, err := o.Run(context.Background(), NewStages(StageSites))
	require.NoError(t, err)
	res, _ := first.Result(StageSites)
	assert.Equal(t, 2, res.Created)

	second, err := o.Run(context.Background(), NewStages(StageSites))
	require.NoError(t, err)
	res, _ = second.Result(StageSites)
	assert.Equal(t, 2, res.Updated)
	assert.Zero(t, res.Failed)

	// One conflict lookup per site on the second run.
	assert.Equal(t, 1, h.fake.count("GET /api/xm/1/sites/HQ"))
	assert.Equal(t, 1, h.fake.count("GET /api/xm/1/sites/Branch"))
	assert.Len(t, h.fake.sites, 2)
}

func TestRun_SupervisorForwardReference(t *testing.T) {
	h := newHarness(t)
	h.fake.sites["HQ"] = "site-hq"
	users := writeCapture(t, "users.json", `[
{"user":{"targetName":"B","site":{"name":"HQ"},"supervisors":{"data":[{"targetName":"A"}]}}},
{"user":{"targetName":"A","site":{"name":"HQ"}}}
]`)

	report, err := h.orchestrator(Files{Users: users}).Run(context.Background(), NewStages(StageUsers))
	require.NoError(t, err)

	res, _ := report.Result(StageUsers)
	assert.Equal(t, 2, res.Created)
	sup, ok := report.Result(ResultSupervisors)
	require.True(t, ok)
	assert.Equal(t, 1, sup.Updated)

	assert.Equal(t, []string{h.fake.people["A"]}, h.fake.supervisors["B"])
	assert.Contains(t, h.messages(logrus.InfoLevel), "Updated supervisors for 1 of a possible 1 Users.")
	// HQ resolved once for both users.
	assert.Equal(t, 1, h.fake.count("GET /api/xm/1/sites/HQ"))
}

func TestRun_UserWithUnknownSiteMakesNoDeviceCalls(t *testing.T) {
	h := newHarness(t)
	users := writeCapture(t, "users.json", `{"user":{"targetName":"jdoe","site":{"name":"Atlantis"}},"devices":{"data":[{"name":"Work Email"},{"name":"SMS"}]}}`)

	report, err := h.orchestrator(Files{Users: users}).Run(context.Background(), NewStages(StageUsers, StageDevices))
	require.NoError(t, err)

	res, _ := report.Result(StageUsers)
	assert.Equal(t, 1, res.Failed)
	devices, ok := report.Result(StageDevices)
	require.True(t, ok)
	assert.Equal(t, 2, devices.Failed)
	assert.Zero(t, h.fake.count("POST /api/xm/1/people"))
	assert.Zero(t, h.fake.count("POST /api/xm/1/devices"))
}

func TestRun_UsersWithInlineDevices(t *testing.T) {
	h := newHarness(t)
	h.fake.sites["HQ"] = "site-hq"
	users := writeCapture(t, "users.json", `{"user":{"targetName":"jdoe","site":{"name":"HQ"}},"devices":{"data":[{"name":"Work Email","deviceType":"EMAIL"},{"name":"SMS","deviceType":"TEXT_PHONE"}]}}
{"user":{"targetName":"root","site":{"name":"HQ"},"roles":{"data":[{"name":"Company Admin"}]}},"devices":{"data":[{"name":"Work Email"}]}}`)

	report, err := h.orchestrator(Files{Users: users}).Run(context.Background(), NewStages(StageUsers, StageDevices))
	require.NoError(t, err)

	res, _ := report.Result(StageUsers)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Skipped)
	devices, _ := report.Result(StageDevices)
	assert.Equal(t, 2, devices.Created)
	assert.Contains(t, h.fake.devices, "jdoe|SMS")
	assert.Equal(t, h.fake.people["jdoe"], gjson.GetBytes(h.fake.bodies["device:jdoe|SMS"], "owner").String())
	assert.Contains(t, h.messages(logrus.DebugLevel), "Added 2 of a possible 2 devices for jdoe")
	assert.NotContains(t, h.fake.people, "root")
}

func TestRun_StandaloneDevicesResolveOwners(t *testing.T) {
	h := newHarness(t)
	h.fake.people["jdoe"] = "p-1"
	h.fake.peopleByID["p-1"] = "jdoe"
	users := writeCapture(t, "users.json", `[
{"user":{"targetName":"jdoe"},"devices":{"data":[{"name":"Work Email"}]}},
{"user":{"targetName":"ghost"},"devices":{"data":[{"name":"SMS"}]}}
]`)

	report, err := h.orchestrator(Files{Users: users}).Run(context.Background(), NewStages(StageDevices))
	require.NoError(t, err)

	res, _ := report.Result(StageDevices)
	assert.Equal(t, 2, res.Attempted)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, h.fake.count("POST /api/xm/1/people"))
	assert.Contains(t, h.messages(logrus.InfoLevel), "Restored 1 of a possible 2 Devices from 2 Users.")
}

func TestRun_GroupsDropUnknownReferences(t *testing.T) {
	h := newHarness(t)
	h.fake.people["boss"] = "p-boss"
	groups := writeCapture(t, "groups.json", `[{"group":{"targetName":"Ops","site":{"name":"Nowhere"},"supervisors":{"data":[{"targetName":"boss"},{"targetName":"ghost"}]}}}]`)

	report, err := h.orchestrator(Files{Groups: groups}).Run(context.Background(), NewStages(StageGroups))
	require.NoError(t, err)

	res, _ := report.Result(StageGroups)
	assert.Equal(t, 1, res.Created)
	body := gjson.ParseBytes(h.fake.bodies["group:Ops"])
	assert.False(t, body.Get("site").Exists())
	assert.Equal(t, `["p-boss"]`, body.Get("supervisors").Raw)
	assert.Contains(t, h.messages(logrus.InfoLevel), "Restored 1 new Groups and updated 0 existing Groups from a possible 1 Groups.")
}

func TestRun_ShiftsReplaceAndMembersFollow(t *testing.T) {
	h := newHarness(t)
	h.fake.people["jdoe"] = "p-jdoe"
	groups := writeCapture(t, "groups.json", `[
{"group":{"targetName":"Ops"},"shifts":{"data":[
  {"name":"Day","members":{"data":[
    {"position":1,"recipient":{"targetName":"jdoe","recipientType":"PERSON"}},
    {"position":2,"recipient":{"targetName":"Escalation","recipientType":"GROUP"}}
  ]}}
]}},
{"group":{"targetName":"Escalation"},"shifts":{"data":[{"name":"Default Shift"}]}}
]`)

	report, err := h.orchestrator(Files{Groups: groups}).Run(context.Background(), NewStages(StageGroups, StageShifts))
	require.NoError(t, err)

	shifts, _ := report.Result(StageShifts)
	assert.Equal(t, 2, shifts.Created)
	members, ok := report.Result(ResultMembers)
	require.True(t, ok)
	assert.Equal(t, 2, members.Created)

	opsID := h.fake.groups["Ops"]
	assert.Equal(t, []string{"p-jdoe", h.fake.groups["Escalation"]}, h.fake.members[opsID+"|Day"])
	// Ops had no Default Shift in the capture, so it is removed after its shifts.
	assert.Equal(t, 1, h.fake.count("DELETE /api/xm/1/groups/"+opsID+"/shifts/Default%20Shift"))
	assert.Contains(t, h.messages(logrus.InfoLevel), "Restored 2 of a possible 2 Shifts from 2 Groups.")
	assert.Contains(t, h.messages(logrus.InfoLevel), "Restored 2 of a possible 2 Members from 1 Shifts in 2 Groups.")
}

func TestRun_ShiftNotImplementedAfterDeleteIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.fake.groups["Ops"] = "g-ops"
	h.fake.shifts["g-ops"] = map[string]string{"Day": "s-old"}
	h.fake.shiftCreateStatus = http.StatusNotImplemented
	groups := writeCapture(t, "groups.json", `{"group":{"targetName":"Ops"},"shifts":{"data":[{"name":"Day"},{"name":"Night"}]}}`)

	report, err := h.orchestrator(Files{Groups: groups}).Run(context.Background(), NewStages(StageShifts))
	require.NoError(t, err)

	res, _ := report.Result(StageShifts)
	assert.Equal(t, 1, res.Skipped)
	// Night was never deleted, so its 501 went through the retry policy.
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, h.fake.count("DELETE /api/xm/1/groups/g-ops/shifts/Day"))
	assert.Equal(t, 4, h.fake.count("POST /api/xm/1/groups/g-ops/shifts"))
}

func TestRun_MemberConflictIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.fake.groups["Ops"] = "g-ops"
	h.fake.people["jdoe"] = "p-jdoe"
	h.fake.members["g-ops|Day"] = []string{"p-jdoe"}
	groups := writeCapture(t, "groups.json", `{"group":{"targetName":"Ops"},"shifts":{"data":[{"name":"Day","members":{"data":[{"recipient":{"targetName":"jdoe"}},{"recipient":{"targetName":"ghost"}}]}}]}}`)

	report, err := h.orchestrator(Files{Groups: groups}).Run(context.Background(), NewStages(StageShifts))
	require.NoError(t, err)

	members, _ := report.Result(ResultMembers)
	assert.Equal(t, 2, members.Attempted)
	assert.Equal(t, 1, members.Skipped)
	assert.Equal(t, 1, members.Failed)
}

func TestRun_MissingFileAbortsOnlyItsStage(t *testing.T) {
	h := newHarness(t)
	sites := writeCapture(t, "sites.json", `[{"name":"HQ"}]`)
	missing := filepath.Join(t.TempDir(), "users.json")

	report, err := h.orchestrator(Files{Sites: sites, Users: missing}).Run(context.Background(), NewStages(StageSites, StageUsers))
	require.NoError(t, err)

	res, _ := report.Result(StageUsers)
	var fileErr *capture.FileAccessError
	require.ErrorAs(t, res.Err, &fileErr)
	assert.NotEmpty(t, res.Error)
	assert.True(t, report.Aborted())

	sitesRes, _ := report.Result(StageSites)
	assert.Equal(t, 1, sitesRes.Created)
}

func TestRun_DecodeErrorKeepsEarlierRecords(t *testing.T) {
	h := newHarness(t)
	sites := writeCapture(t, "sites.json", "{\"name\":\"HQ\"}\n{not json}\n{\"name\":\"Branch\"}\n")

	report, err := h.orchestrator(Files{Sites: sites}).Run(context.Background(), NewStages(StageSites))
	require.NoError(t, err)

	res, _ := report.Result(StageSites)
	assert.Equal(t, 1, res.Created)
	var decodeErr *capture.RecordDecodeError
	require.ErrorAs(t, res.Err, &decodeErr)
	assert.Contains(t, h.fake.sites, "HQ")
	assert.NotContains(t, h.fake.sites, "Branch")
}

func TestRun_CanceledContextStops(t *testing.T) {
	h := newHarness(t)
	sites := writeCapture(t, "sites.json", `[{"name":"HQ"}]`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.orchestrator(Files{Sites: sites, Users: sites}).Run(ctx, AllStages())
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, report.Results, 1)
	assert.False(t, report.Aborted())
	assert.Zero(t, h.fake.count("POST"))
}
