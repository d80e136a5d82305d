package logging

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// Subsystem prefixes. Every package logs through its own logger so
// training noise can be silenced independently of live classification.
const (
	Main    = "MA"
	Filter  = "FI"
	Store   = "ST"
	Trainer = "TR"
	Milter  = "MI"
)

var loggers map[string]*logrus.Logger

type prefixFormatter struct {
	inner  logrus.Formatter
	prefix []byte
}

func newPrefixFormatter(prefix string) *prefixFormatter {
	inner := &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
		DisableColors:   strings.Contains(runtime.GOOS, "windows"),
	}
	return &prefixFormatter{
		inner:  inner,
		prefix: []byte(fmt.Sprintf("%s:\t", prefix)),
	}
}

func (f *prefixFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	text, err := f.inner.Format(entry)
	if err != nil {
		return nil, err
	}
	return append(f.prefix, text...), nil
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	}
	return logrus.InfoLevel
}

// Init sets up one logger per subsystem at the given level. Must be
// called before Logger.
func Init(level string) {
	loggers = make(map[string]*logrus.Logger)
	for _, prefix := range []string{Main, Filter, Store, Trainer, Milter} {
		l := logrus.New()
		l.Level = parseLevel(level)
		l.Formatter = newPrefixFormatter(prefix)
		loggers[prefix] = l
	}
}

// SetLevel changes the level of all subsystem loggers.
func SetLevel(level string) {
	for _, l := range loggers {
		l.Level = parseLevel(level)
	}
}

// Logger returns the logger for a subsystem. Falls back to Init with
// info level so library use without explicit setup still logs sanely.
func Logger(subsystem string) *logrus.Logger {
	if loggers == nil {
		Init("info")
	}
	l, ok := loggers[subsystem]
	if !ok {
		panic("logger " + subsystem + " unknown")
	}
	return l
}
