package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	maxLogSizeMB  = 10
	maxLogBackups = 3
	timeLayout    = "2006-01-02 15:04:05"
)

type Options struct {
	// Path of the rotating log file. Empty logs to stderr only.
	Path  string
	Level logrus.Level
	// Console echoes entries at Level to ConsoleOut; otherwise only errors are echoed.
	Console    bool
	ConsoleOut io.Writer
}

// LevelForVerbosity maps a -v count to a log level.
func LevelForVerbosity(v int) logrus.Level {
	switch {
	case v <= 0:
		return logrus.ErrorLevel
	case v == 1:
		return logrus.WarnLevel
	case v == 2:
		return logrus.InfoLevel
	default:
		return logrus.DebugLevel
	}
}

// FileLogger builds the run logger. The returned closer releases the log file.
func FileLogger(opts Options) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()
	logger.SetLevel(opts.Level)
	logger.SetFormatter(&LineFormatter{})

	if opts.Path == "" {
		logger.SetOutput(os.Stderr)
		return logger, nopCloser{}, nil
	}

	f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open log file %s", opts.Path)
	}
	_ = f.Close()

	rotating := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    maxLogSizeMB,
		MaxBackups: maxLogBackups,
	}
	logger.SetOutput(rotating)

	out := opts.ConsoleOut
	if out == nil {
		out = os.Stdout
	}
	threshold := logrus.ErrorLevel
	if opts.Console {
		threshold = opts.Level
	}
	logger.AddHook(&ConsoleHook{Out: out, Threshold: threshold, Formatter: logger.Formatter})
	return logger, rotating, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Nop returns an entry that discards everything.
func Nop() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

// ConsoleHook mirrors entries at or above Threshold to Out.
type ConsoleHook struct {
	Out       io.Writer
	Threshold logrus.Level
	Formatter logrus.Formatter
}

func (h *ConsoleHook) Levels() []logrus.Level {
	levels := make([]logrus.Level, 0, len(logrus.AllLevels))
	for _, l := range logrus.AllLevels {
		if l <= h.Threshold {
			levels = append(levels, l)
		}
	}
	return levels
}

func (h *ConsoleHook) Fire(entry *logrus.Entry) error {
	line, err := h.Formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.Out.Write(line)
	return err
}

// LineFormatter writes "time - LEVEL - message" followed by any fields.
type LineFormatter struct{}

func (f *LineFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(entry.Time.Format(timeLayout))
	b.WriteString(" - ")
	b.WriteString(levelName(entry.Level))
	b.WriteString(" - ")
	b.WriteString(entry.Message)

	if len(entry.Data) > 0 {
		keys := make([]string, 0, len(entry.Data))
		for k := range entry.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" [")
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%s=%v", k, entry.Data[k])
		}
		b.WriteByte(']')
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func levelName(l logrus.Level) string {
	if l == logrus.WarnLevel {
		return "WARNING"
	}
	return strings.ToUpper(l.String())
}
