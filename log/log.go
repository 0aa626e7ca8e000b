// Package log writes the canonical key=value lines used by the store and the
// tgstore tool.
package log

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

const TGSTORE_LOG_LINE = "CANONICAL-TGSTORE-LINE"

type KeyValue map[string]interface{}

var logger = newLogger(os.Stderr)

func newLogger(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.Out = out
	l.Formatter = &logrus.TextFormatter{
		DisableColors:    true,
		FullTimestamp:    true,
		QuoteEmptyFields: true,
	}
	return l
}

// SetOutput redirects every subsequent log line to w.
func SetOutput(w io.Writer) {
	logger.Out = w
}

// SetQuiet drops everything below warning level.
func SetQuiet(quiet bool) {
	if quiet {
		logger.SetLevel(logrus.WarnLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
}

func (x KeyValue) fields() logrus.Fields {
	f := make(logrus.Fields, len(x)+1)
	for k, v := range x {
		f[k] = v
	}
	f["line"] = TGSTORE_LOG_LINE
	return f
}

func Println(v ...interface{}) {
	logger.WithField("line", TGSTORE_LOG_LINE).Info(fmt.Sprint(v...))
}

func Printf(format string, v ...interface{}) {
	Println(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...interface{}) {
	logger.WithField("line", TGSTORE_LOG_LINE).Warn(fmt.Sprintf(format, v...))
}

func PrintlnWithKV(msg, key string, value interface{}) {
	LogWithKVs(msg, KeyValue{key: value})
}

func Fatal(v ...interface{}) {
	logger.WithField("line", TGSTORE_LOG_LINE).Error(fmt.Sprint(v...))
	os.Exit(1)
}

func Fatalf(format string, v ...interface{}) {
	Fatal(fmt.Sprintf(format, v...))
}

func LogWithKVs(msg string, data KeyValue) {
	logger.WithFields(data.fields()).Info(msg)
}
