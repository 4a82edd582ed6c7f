package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/xmatters-labs/restore-instance-data/pkg/configuration"
)

var (
	version = "dev"
	date    = "unknown"
)

const promptForPassword = "\x00prompt"

// readPassword reads a password from the terminal without echo.
var readPassword = func() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", errors.Wrap(err, "read password")
	}
	return string(b), nil
}

type globalOptions struct {
	baseName         string
	console          bool
	defaults         string
	instance         string
	logFilename      string
	outDir           string
	password         string
	timeStr          string
	user             string
	verbosity        int
	url              string
	retryBaseDelay   time.Duration
	retryMaxAttempts int
	retryMaxElapsed  time.Duration
	httpTimeout      time.Duration
	pushgateway      string
	otlpEndpoint     string
	metricsAddr      string
	report           bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:           "restore-instance-data",
		Short:         "Restore captured Sites, Users, Devices, Groups and Shifts into an xMatters instance",
		Version:       fmt.Sprintf("%s (%s)", version, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return exitWith(exitCommand, errors.Errorf("unknown command %q", args[0]))
			}
			return exitWith(exitCommand, errors.New("a command is required, see --help"))
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return exitWith(exitCommand, err)
	})
	cmd.Flags().BoolP("version", "V", false, "print the program version and exit")

	f := cmd.PersistentFlags()
	f.StringVarP(&opts.baseName, "basename", "b", "", "base name of the capture files")
	f.BoolVarP(&opts.console, "console", "c", false, "echo log entries at the chosen verbosity to the console")
	f.StringVarP(&opts.defaults, "defaults", "d", "defaults.json", "defaults file (json, yaml or toml)")
	f.StringVarP(&opts.instance, "itype", "i", "", "instance type of the capture files: np or prod")
	f.StringVarP(&opts.logFilename, "lfile", "l", "", "log file name component")
	f.StringVarP(&opts.outDir, "odir", "o", "", "directory holding the capture files and the log")
	f.StringVarP(&opts.password, "password", "p", "", "password, or prompt when given without a value")
	f.Lookup("password").NoOptDefVal = promptForPassword
	f.StringVarP(&opts.timeStr, "time", "t", "", "time string of the capture files")
	f.StringVarP(&opts.user, "user", "u", "", "user to authenticate as")
	f.CountVarP(&opts.verbosity, "verbose", "v", "increase log verbosity (-v warning, -vv info, -vvv debug)")
	f.StringVarP(&opts.url, "xmodurl", "x", "", "xMatters instance url, e.g. https://acme.xmatters.com")
	f.DurationVar(&opts.retryBaseDelay, "retry-base-delay", 0, "linear backoff step for transient responses")
	f.IntVar(&opts.retryMaxAttempts, "retry-max-attempts", 0, "give up after this many attempts (0 retries forever)")
	f.DurationVar(&opts.retryMaxElapsed, "retry-max-elapsed", 0, "give up once retrying would exceed this (0 retries forever)")
	f.DurationVar(&opts.httpTimeout, "http-timeout", 0, "timeout of a single request")
	f.StringVar(&opts.pushgateway, "pushgateway", "", "Prometheus Pushgateway url to push run metrics to")
	f.StringVar(&opts.otlpEndpoint, "otlp-endpoint", "", "OTLP/HTTP endpoint for traces")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /metrics on this address while the run lasts")
	f.BoolVar(&opts.report, "report", false, "write one JSON line per stage result to stdout")

	for _, sc := range stageCommands {
		cmd.AddCommand(newStageCmd(opts, sc))
	}
	return cmd
}

// apply overlays the flags that were set on cfg.
func (o *globalOptions) apply(flags *pflag.FlagSet, cfg *configuration.Configuration) error {
	changed := flags.Changed
	setString := func(name string, dst *string, v string) {
		if changed(name) {
			*dst = strings.TrimSpace(v)
		}
	}
	setString("basename", &cfg.BaseName, o.baseName)
	setString("itype", &cfg.Instance, o.instance)
	setString("lfile", &cfg.LogFilename, o.logFilename)
	setString("odir", &cfg.OutDirectory, o.outDir)
	setString("time", &cfg.TimeStr, o.timeStr)
	setString("user", &cfg.User, o.user)
	setString("xmodurl", &cfg.XmodURL, o.url)
	setString("pushgateway", &cfg.Telemetry.Pushgateway, o.pushgateway)
	setString("otlp-endpoint", &cfg.Telemetry.OTLPEndpoint, o.otlpEndpoint)
	setString("metrics-addr", &cfg.Telemetry.MetricsAddr, o.metricsAddr)
	if changed("console") {
		cfg.Console = o.console
	}
	if changed("verbose") {
		cfg.Verbosity = o.verbosity
	}
	if changed("retry-base-delay") {
		cfg.Retry.BaseDelay = o.retryBaseDelay
	}
	if changed("retry-max-attempts") {
		cfg.Retry.MaxAttempts = o.retryMaxAttempts
	}
	if changed("retry-max-elapsed") {
		cfg.Retry.MaxElapsed = o.retryMaxElapsed
	}
	if changed("http-timeout") {
		cfg.HTTPTimeout = o.httpTimeout
	}
	if changed("password") {
		if o.password != promptForPassword {
			cfg.Password = o.password
			return nil
		}
		pw, err := readPassword()
		if err != nil {
			return &configuration.Error{Category: configuration.CategoryPassword, Field: "Password", Err: err}
		}
		cfg.Password = pw
	}
	return nil
}

func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		code := exitCode(err)
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(code)
	}
}
