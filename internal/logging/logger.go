package logging

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

type Options struct {
	Verbose bool
	JSON    bool
	Out     io.Writer
}

// New builds the process logger. Every line carries a timestamp.
func New(o Options) *logrus.Logger {
	log := logrus.New()
	if o.JSON {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05",
		})
	}
	if o.Out == nil {
		o.Out = os.Stderr
	}
	log.SetOutput(o.Out)
	log.SetLevel(logrus.InfoLevel)
	if o.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}
