package log

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

const (
	FormatText = "text"
	FormatJSON = "json"
	FormatAuto = "auto"
)

var (
	logger          *logrus.Logger
	loggerOnce      sync.Once
	levelPrintNames = map[logrus.Level]string{
		logrus.PanicLevel: "Panic",
		logrus.FatalLevel: "Fatal",
		logrus.ErrorLevel: "Error",
		logrus.WarnLevel:  "Warn",
		logrus.InfoLevel:  "Info",
		logrus.DebugLevel: "Debug",
		logrus.TraceLevel: "Trace",
	}
	levelFlagNames = map[string]logrus.Level{
		"panic": logrus.PanicLevel,
		"fatal": logrus.FatalLevel,
		"error": logrus.ErrorLevel,
		"warn":  logrus.WarnLevel,
		"info":  logrus.InfoLevel,
		"debug": logrus.DebugLevel,
		"trace": logrus.TraceLevel,
	}
)

// customFormatter implements logrus.Formatter to print entries in the format: Level: message key=value ...
type customFormatter struct{}

func (f *customFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	level, ok := levelPrintNames[entry.Level]
	if !ok {
		level = entry.Level.String()
	}

	var b strings.Builder
	b.WriteString(level)
	b.WriteString(": ")
	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Data[k])
	}
	b.WriteByte('\n')

	return []byte(b.String()), nil
}

// GetLogger returns a singleton logrus.Logger instance
func GetLogger() *logrus.Logger {
	loggerOnce.Do(func() {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
		logger.SetFormatter(&customFormatter{})
	})
	return logger
}

// SetLevel sets the log level for the logger
func SetLevel(level logrus.Level) {
	GetLogger().SetLevel(level)
}

// SetOutput redirects the logger output, mostly used by tests.
func SetOutput(w io.Writer) {
	GetLogger().SetOutput(w)
}

// InitLogger sets the log level based on the verbosity string and exits on error
func InitLogger(verbosity string) {
	level, ok := levelFlagNames[verbosity]
	if !ok {
		GetLogger().Error("Unknown verbosity level: " + verbosity)
		os.Exit(1)
	}
	SetLevel(level)
}

// SetFormat selects the output format. "auto" picks the text format on a terminal and JSON otherwise.
func SetFormat(format string) error {
	switch format {
	case FormatText:
		GetLogger().SetFormatter(&customFormatter{})
	case FormatJSON:
		GetLogger().SetFormatter(&logrus.JSONFormatter{})
	case FormatAuto, "":
		if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
			GetLogger().SetFormatter(&customFormatter{})
		} else {
			GetLogger().SetFormatter(&logrus.JSONFormatter{})
		}
	default:
		return fmt.Errorf("unknown log format %q, must be one of %s, %s, %s", format, FormatText, FormatJSON, FormatAuto)
	}
	return nil
}
