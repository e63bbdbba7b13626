package logging

import (
	"io"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"
)

// New builds the root JSON logger. Unknown levels fall back to info.
func New(level string) *logrus.Logger {
	return NewWithOutput(level, os.Stdout)
}

func NewWithOutput(level string, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.JSONFormatter{})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}

// ForRequest returns an entry tagged with the API Gateway request identity.
func ForRequest(log logrus.FieldLogger, req events.APIGatewayProxyRequest) *logrus.Entry {
	return log.WithFields(logrus.Fields{
		"request_id": req.RequestContext.RequestID,
		"route":      req.Resource,
		"method":     req.HTTPMethod,
	})
}

// Discard is a logger that drops everything, used by tests.
func Discard() *logrus.Logger {
	return NewWithOutput("panic", io.Discard)
}
