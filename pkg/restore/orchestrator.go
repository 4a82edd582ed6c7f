package restore

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xmatters-labs/restore-instance-data/pkg/capture"
	"github.com/xmatters-labs/restore-instance-data/pkg/logging"
)

const tracerName = "github.com/xmatters-labs/restore-instance-data/pkg/restore"

// Stage is a selectable unit of a restore run.
type Stage string

const (
	StageSites   Stage = "sites"
	StageUsers   Stage = "users"
	StageDevices Stage = "devices"
	StageGroups  Stage = "groups"
	StageShifts  Stage = "shifts"
)

// Result names that only appear in reports.
const (
	ResultSupervisors Stage = "supervisors"
	ResultMembers     Stage = "members"
)

type Stages map[Stage]bool

func NewStages(stages ...Stage) Stages {
	s := make(Stages, len(stages))
	for _, st := range stages {
		s[st] = true
	}
	return s
}

func AllStages() Stages {
	return NewStages(StageSites, StageUsers, StageDevices, StageGroups, StageShifts)
}

func (s Stages) Has(st Stage) bool { return s[st] }

// Files locates the capture files of each entity kind.
type Files struct {
	Sites  string
	Users  string
	Groups string
}

type StageResult struct {
	Stage Stage `json:"stage"`
	Tally
	Succeeded int    `json:"succeeded"`
	Error     string `json:"error,omitempty"`
	Err       error  `json:"-"`
}

func newResult(stage Stage, t Tally, err error) StageResult {
	r := StageResult{Stage: stage, Tally: t, Succeeded: t.Succeeded(), Err: err}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

type Report struct {
	RunID   string        `json:"runId"`
	Results []StageResult `json:"results"`
}

// Aborted reports whether any stage stopped early on a file or decode error.
func (r Report) Aborted() bool {
	for _, res := range r.Results {
		if res.Err != nil && !errors.Is(res.Err, context.Canceled) && !errors.Is(res.Err, context.DeadlineExceeded) {
			return true
		}
	}
	return false
}

func (r Report) Result(stage Stage) (StageResult, bool) {
	for _, res := range r.Results {
		if res.Stage == stage {
			return res, true
		}
	}
	return StageResult{}, false
}

type OrchestratorOptions struct {
	API              API
	Files            Files
	Logger           *logrus.Entry
	DefaultShiftName string
}

// Orchestrator runs the selected stages in dependency order: sites, then
// users and devices, then groups and shifts. Each run gets a fresh resolver.
type Orchestrator struct {
	api              API
	files            Files
	logger           *logrus.Entry
	defaultShiftName string
	tracer           trace.Tracer
	metrics          *metrics
}

func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Orchestrator{
		api:              opts.API,
		files:            opts.Files,
		logger:           logger,
		defaultShiftName: opts.DefaultShiftName,
		tracer:           otel.Tracer(tracerName),
		metrics:          getMetrics(),
	}
}

func (o *Orchestrator) Run(ctx context.Context, stages Stages) (Report, error) {
	report := Report{RunID: uuid.NewString()}
	logger := o.logger.WithField("run_id", report.RunID)
	s := NewSession(o.api, logger, o.defaultShiftName)

	add := func(results ...StageResult) {
		for _, res := range results {
			o.metrics.stageAttempted.WithLabelValues(string(res.Stage)).Set(float64(res.Attempted))
			o.metrics.stageSucceeded.WithLabelValues(string(res.Stage)).Set(float64(res.Succeeded))
			report.Results = append(report.Results, res)
		}
	}

	if stages.Has(StageSites) {
		add(o.runSites(ctx, s))
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	switch {
	case stages.Has(StageUsers):
		add(o.runUsers(ctx, s, stages.Has(StageDevices))...)
	case stages.Has(StageDevices):
		add(o.runDevices(ctx, s))
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	if stages.Has(StageGroups) {
		add(o.runGroups(ctx, s))
		if err := ctx.Err(); err != nil {
			return report, err
		}
	}
	if stages.Has(StageShifts) {
		add(o.runShifts(ctx, s)...)
	}

	logger.Debugf("Resolver issued %d lookups", s.Resolver.Lookups())
	return report, ctx.Err()
}

func (o *Orchestrator) runSites(ctx context.Context, s *Session) StageResult {
	ctx, span := o.startStage(ctx, StageSites, o.files.Sites)
	defer span.End()

	r := NewSiteRestorer(s)
	var t Tally
	err := o.eachRecord(ctx, o.files.Sites, func(rec capture.Record) {
		t.Add(r.Restore(ctx, rec))
	})
	o.finish(span, StageSites, err)
	s.Logger.Infof("Restored %d of a possible %d Sites.", t.Succeeded(), t.Attempted)
	return newResult(StageSites, t, err)
}

func (o *Orchestrator) runUsers(ctx context.Context, s *Session, withDevices bool) []StageResult {
	ctx, span := o.startStage(ctx, StageUsers, o.files.Users)
	defer span.End()

	r := NewUserRestorer(s, withDevices)
	var t Tally
	err := o.eachRecord(ctx, o.files.Users, func(rec capture.Record) {
		t.Add(r.Restore(ctx, rec))
	})
	o.finish(span, StageUsers, err)
	s.Logger.Infof("Restored %d of a possible %d Users.", t.Succeeded(), t.Attempted)

	// Users restored before a file error still get their supervisors.
	sup := r.AttachSupervisors(ctx)
	s.Logger.Infof("Updated supervisors for %d of a possible %d Users.", sup.Succeeded(), sup.Attempted)

	results := []StageResult{newResult(StageUsers, t, err), newResult(ResultSupervisors, sup, nil)}
	if withDevices {
		s.Logger.Infof("Restored %d of a possible %d Devices.", r.Devices.Succeeded(), r.Devices.Attempted)
		results = append(results, newResult(StageDevices, r.Devices, err))
	}
	return results
}

func (o *Orchestrator) runDevices(ctx context.Context, s *Session) StageResult {
	ctx, span := o.startStage(ctx, StageDevices, o.files.Users)
	defer span.End()

	r := NewDeviceRestorer(s)
	var t Tally
	err := o.eachRecord(ctx, o.files.Users, func(rec capture.Record) {
		t.Merge(r.RestoreFromUser(ctx, rec))
	})
	o.finish(span, StageDevices, err)
	s.Logger.Infof("Restored %d of a possible %d Devices from %d Users.", t.Succeeded(), t.Attempted, r.Owners)
	return newResult(StageDevices, t, err)
}

func (o *Orchestrator) runGroups(ctx context.Context, s *Session) StageResult {
	ctx, span := o.startStage(ctx, StageGroups, o.files.Groups)
	defer span.End()

	r := NewGroupRestorer(s)
	var t Tally
	err := o.eachRecord(ctx, o.files.Groups, func(rec capture.Record) {
		t.Add(r.Restore(ctx, rec))
	})
	o.finish(span, StageGroups, err)
	s.Logger.Infof("Restored %d new Groups and updated %d existing Groups from a possible %d Groups.",
		t.Created, t.Updated, t.Attempted)
	return newResult(StageGroups, t, err)
}

// runShifts reads the groups file twice: once to replace every group's
// shifts and once more to add their members.
func (o *Orchestrator) runShifts(ctx context.Context, s *Session) []StageResult {
	ctx, span := o.startStage(ctx, StageShifts, o.files.Groups)
	defer span.End()

	r := NewShiftRestorer(s)
	var shifts Tally
	err := o.eachRecord(ctx, o.files.Groups, func(rec capture.Record) {
		shifts.Merge(r.RestoreShifts(ctx, rec))
	})
	s.Logger.Infof("Restored %d of a possible %d Shifts from %d Groups.", shifts.Succeeded(), shifts.Attempted, r.Groups)
	results := []StageResult{newResult(StageShifts, shifts, err)}
	if err != nil {
		o.finish(span, StageShifts, err)
		return results
	}

	var members Tally
	err = o.eachRecord(ctx, o.files.Groups, func(rec capture.Record) {
		members.Merge(r.RestoreMembers(ctx, rec))
	})
	o.finish(span, StageShifts, err)
	s.Logger.Infof("Restored %d of a possible %d Members from %d Shifts in %d Groups.",
		members.Succeeded(), members.Attempted, r.MemberShifts, r.Groups)
	return append(results, newResult(ResultMembers, members, err))
}

// eachRecord streams path through fn. It stops on the first file or decode
// error and when ctx is done.
func (o *Orchestrator) eachRecord(ctx context.Context, path string, fn func(capture.Record)) error {
	if path == "" {
		return &capture.FileAccessError{Path: path, Err: errors.New("no capture file configured")}
	}
	rd, err := capture.Open(path)
	if err != nil {
		o.logger.WithError(err).Errorf("Unable to open %s", path)
		return err
	}
	defer rd.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			o.logger.WithError(err).Errorf("Unable to read %s", rd.Path())
			return err
		}
		fn(rec)
	}
}

func (o *Orchestrator) startStage(ctx context.Context, stage Stage, path string) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, fmt.Sprintf("restore.%s", stage),
		trace.WithAttributes(
			attribute.String("restore.stage", string(stage)),
			attribute.String("restore.file", path),
		),
	)
}

func (o *Orchestrator) finish(span trace.Span, stage Stage, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if !errors.Is(err, context.Canceled) {
		o.logger.WithError(err).Errorf("Stage %s aborted", stage)
	}
}
