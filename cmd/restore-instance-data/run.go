package main

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/xmatters-labs/restore-instance-data/pkg/capture"
	"github.com/xmatters-labs/restore-instance-data/pkg/configuration"
	"github.com/xmatters-labs/restore-instance-data/pkg/logging"
	"github.com/xmatters-labs/restore-instance-data/pkg/metrics"
	"github.com/xmatters-labs/restore-instance-data/pkg/restore"
	"github.com/xmatters-labs/restore-instance-data/pkg/xmapi"
)

func runRestore(cmd *cobra.Command, opts *globalOptions, stages restore.Stages) error {
	ctx := cmd.Context()

	cfg, err := configuration.Load(configuration.DefaultEnvFiles, opts.defaults)
	if err != nil {
		return err
	}
	if err := opts.apply(cmd.Flags(), cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, closer, err := logging.FileLogger(logging.Options{
		Path:       cfg.LogPath(time.Now()),
		Level:      cfg.LogLevel(),
		Console:    cfg.Console,
		ConsoleOut: cmd.OutOrStdout(),
	})
	if err != nil {
		return &configuration.Error{Category: configuration.CategoryOutDirectory, Field: "OutDirectory", Err: err}
	}
	defer func() { _ = closer.Close() }()
	log := logger.WithField("instance", cfg.Instance)

	shutdown, err := logging.SetupTracing(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		log.WithError(err).Warn("Tracing disabled")
	} else {
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
	}

	if addr := cfg.Telemetry.MetricsAddr; addr != "" {
		srv, err := metrics.Listen(addr)
		if err != nil {
			log.WithError(err).Warn("Metrics endpoint disabled")
		} else {
			mctx, stop := context.WithCancel(ctx)
			defer stop()
			go func() { _ = srv.Serve(mctx, log) }()
			log.Infof("Serving metrics on %s", srv.Addr())
		}
	}

	api, err := xmapi.New(cfg.ClientOptions(log))
	if err != nil {
		return exitWith(exitURL, err)
	}
	if !api.RetryPolicy().Bounded() {
		log.Debug("Transient responses are retried without limit")
	}

	log.Infof("Restoring %s into %s", stageList(stages), cfg.XmodURL)
	orch := restore.NewOrchestrator(restore.OrchestratorOptions{
		API: api,
		Files: restore.Files{
			Sites:  cfg.FileName(capture.KindSites),
			Users:  cfg.FileName(capture.KindUsers),
			Groups: cfg.FileName(capture.KindGroups),
		},
		Logger:           log,
		DefaultShiftName: cfg.DefaultShiftName,
	})
	report, runErr := orch.Run(ctx, stages)

	if opts.report {
		for _, res := range report.Results {
			if err := writeJSONLine(cmd.OutOrStdout(), res); err != nil {
				return err
			}
		}
	}
	if cfg.Telemetry.Pushgateway != "" {
		if err := pushMetrics(cfg.Telemetry.Pushgateway, cfg.Instance, report.RunID); err != nil {
			log.WithError(err).Warn("Unable to push metrics")
		}
	}

	switch {
	case errors.Is(runErr, context.Canceled):
		log.Error("Interrupted, stopping")
		return runErr
	case runErr != nil:
		return exitWith(exitUnexpected, runErr)
	case report.Aborted():
		return exitWith(exitStageAborted, errors.New("one or more stages stopped on a file error, see the log"))
	}
	log.Info("Restore complete")
	return nil
}

func stageList(stages restore.Stages) string {
	names := make([]string, 0, len(stages))
	for st, ok := range stages {
		if ok {
			names = append(names, string(st))
		}
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
