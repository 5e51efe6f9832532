package config

import "github.com/sirupsen/logrus"

// log is the package logger. Nodes attached to a Root log through the
// Root's logger instead.
var log logrus.FieldLogger = logrus.WithField("module", "config")

// SetLogger replaces the package logger used by fields and unattached nodes.
// A nil logger restores the default.
func SetLogger(l logrus.FieldLogger) {
	if l == nil {
		l = logrus.WithField("module", "config")
	}
	log = l
}
