package configuration

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/iota-uz/utils/fs"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/xmatters-labs/restore-instance-data/pkg/capture"
	"github.com/xmatters-labs/restore-instance-data/pkg/logging"
	"github.com/xmatters-labs/restore-instance-data/pkg/xmapi"
)

const (
	InstanceNonProduction = "np"
	InstanceProduction    = "prod"

	logTimeLayout = "20060102-1504"
)

var DefaultEnvFiles = []string{".env", ".env.local"}

func LoadEnv(envFiles []string) (int, error) {
	existingFiles := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if fs.FileExists(file) {
			existingFiles = append(existingFiles, file)
		}
	}
	if len(existingFiles) == 0 {
		return 0, nil
	}
	return len(existingFiles), godotenv.Load(existingFiles...)
}

type RetryOptions struct {
	BaseDelay   time.Duration `env:"XM_RETRY_BASE_DELAY" envDefault:"3s" validate:"gt=0"`
	MaxAttempts int           `env:"XM_RETRY_MAX_ATTEMPTS" envDefault:"0" validate:"gte=0"`
	MaxElapsed  time.Duration `env:"XM_RETRY_MAX_ELAPSED" envDefault:"0" validate:"gte=0"`
}

type TelemetryOptions struct {
	OTLPEndpoint string `env:"XM_OTLP_ENDPOINT"`
	ServiceName  string `env:"XM_OTEL_SERVICE_NAME" envDefault:"restore-instance-data"`
	Pushgateway  string `env:"XM_PUSHGATEWAY" validate:"omitempty,url"`
	MetricsAddr  string `env:"XM_METRICS_ADDR"`
}

// Configuration is everything a restore run needs. It is filled from the
// environment first, then the defaults file, then command line flags.
type Configuration struct {
	XmodURL          string        `env:"XM_URL" validate:"required,url"`
	User             string        `env:"XM_USER" validate:"required"`
	Password         string        `env:"XM_PASSWORD" validate:"required"`
	BaseName         string        `env:"XM_BASE_NAME" validate:"required"`
	OutDirectory     string        `env:"XM_OUT_DIRECTORY" validate:"required,dir"`
	TimeStr          string        `env:"XM_TIME_STR" validate:"required"`
	DirSep           string        `env:"XM_DIR_SEP" envDefault:"/"`
	LogFilename      string        `env:"XM_LOG_FILENAME" envDefault:"restoreInstanceData"`
	Verbosity        int           `env:"XM_VERBOSITY" envDefault:"0" validate:"gte=0"`
	Instance         string        `env:"XM_INSTANCE" envDefault:"np" validate:"oneof=np prod"`
	DefaultShiftName string        `env:"XM_DEFAULT_SHIFT_NAME" envDefault:"Default Shift"`
	Console          bool          `env:"XM_CONSOLE" envDefault:"false"`
	HTTPTimeout      time.Duration `env:"XM_HTTP_TIMEOUT" envDefault:"60s" validate:"gt=0"`
	RequestIDHeader  string        `env:"XM_REQUEST_ID_HEADER" envDefault:"X-Request-ID"`

	Retry     RetryOptions
	Telemetry TelemetryOptions
}

// FromEnv loads envFiles and parses XM_* variables over the built-in defaults.
func FromEnv(envFiles []string) (*Configuration, error) {
	if _, err := LoadEnv(envFiles); err != nil {
		return nil, &Error{Category: CategoryUnexpected, Err: err}
	}
	c := &Configuration{}
	if err := env.Parse(c); err != nil {
		return nil, &Error{Category: CategoryUnexpected, Err: err}
	}
	return c, nil
}

// Load layers the environment and the defaults file at defaultsPath.
// Flags are applied by the caller before Validate.
func Load(envFiles []string, defaultsPath string) (*Configuration, error) {
	c, err := FromEnv(envFiles)
	if err != nil {
		return nil, err
	}
	d, err := ReadDefaults(defaultsPath)
	if err != nil {
		return nil, err
	}
	d.Apply(c)
	return c, nil
}

func (c *Configuration) LogLevel() logrus.Level {
	return logging.LevelForVerbosity(c.Verbosity)
}

// FileName is the capture file of kind for this instance and time string.
func (c *Configuration) FileName(kind capture.Kind) string {
	return capture.FileName(c.OutDirectory, c.BaseName, c.Instance, kind, c.TimeStr)
}

// LogPath is the run log file, stamped with now.
func (c *Configuration) LogPath(now time.Time) string {
	name := fmt.Sprintf("%s.%s.%s.%s.log", c.BaseName, c.Instance, c.LogFilename, now.Format(logTimeLayout))
	return filepath.Join(c.OutDirectory, name)
}

func (c *Configuration) RetryPolicy() xmapi.RetryPolicy {
	return xmapi.RetryPolicy{
		BaseDelay:   c.Retry.BaseDelay,
		MaxAttempts: c.Retry.MaxAttempts,
		MaxElapsed:  c.Retry.MaxElapsed,
		Statuses:    xmapi.TransientStatuses,
	}
}

func (c *Configuration) ClientOptions(logger *logrus.Entry) xmapi.Options {
	return xmapi.Options{
		BaseURL:         c.XmodURL,
		User:            c.User,
		Password:        c.Password,
		Timeout:         c.HTTPTimeout,
		RequestIDHeader: c.RequestIDHeader,
		Retry:           c.RetryPolicy(),
		Logger:          logger,
	}
}
