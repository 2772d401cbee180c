package omvp

import (
	"io"

	"github.com/sirupsen/logrus"
)

var discardLogger = &logrus.Logger{
	Out:       io.Discard,
	Level:     logrus.PanicLevel,
	Hooks:     make(logrus.LevelHooks),
	Formatter: &logrus.TextFormatter{},
}
