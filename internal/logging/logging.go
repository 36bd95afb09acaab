// Package logging constructs the single logrus.Logger used by
// cmd/reflectord, which passes it to its connection handler and
// background loops. The internal reflector, rtspsession and rtsp
// packages do not log.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a logrus.Logger at the given level (parsed with
// logrus.ParseLevel; an invalid level falls back to Info).
func New(level string) *logrus.Logger {
	l := logrus.New()
	l.Out = os.Stdout
	l.Formatter = &logrus.TextFormatter{FullTimestamp: true}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	return l
}
