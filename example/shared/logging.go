package shared

import (
	"os"

	"github.com/sirupsen/logrus"
)

func NewLogger(level logrus.Level) *logrus.Logger {
	return &logrus.Logger{
		Out:   os.Stdout,
		Level: level,
		Hooks: make(logrus.LevelHooks),
		Formatter: &logrus.TextFormatter{
			FullTimestamp: true,
		},
	}
}
