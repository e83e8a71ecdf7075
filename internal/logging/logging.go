package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

var log *logrus.Logger = logrus.New()

// InitLogger applies the configured level. Accepted values are DEBUG, INFO
// and ERROR; anything else falls back to INFO.
func InitLogger(level string) {
	var logLevel logrus.Level

	switch level {
	case "DEBUG":
		logLevel = logrus.DebugLevel
	case "ERROR":
		logLevel = logrus.ErrorLevel
	default:
		logLevel = logrus.InfoLevel
	}

	log.Level = logLevel
	log.Out = os.Stdout
	log.ReportCaller = true
}

func GetLogger() *logrus.Logger {
	return log
}

// ForWorkload returns an entry carrying the workload identity fields used
// across scan and remediation logs.
func ForWorkload(name, namespace string) *logrus.Entry {
	return log.WithFields(logrus.Fields{
		"name":      name,
		"namespace": namespace,
	})
}
