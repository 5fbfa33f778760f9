package queue

import (
	"fmt"
	"os"

	"github.com/adverant/nexus/reportscan-worker/internal/logging"
)

// asynqLogger routes asynq's internal logs through the worker logger.
type asynqLogger struct {
	logger *logging.Logger
}

func newAsynqLogger() *asynqLogger {
	return &asynqLogger{logger: logging.NewLogger("asynq")}
}

func (a *asynqLogger) Debug(args ...interface{}) { a.logger.Debug(fmt.Sprint(args...)) }
func (a *asynqLogger) Info(args ...interface{})  { a.logger.Info(fmt.Sprint(args...)) }
func (a *asynqLogger) Warn(args ...interface{})  { a.logger.Warn(fmt.Sprint(args...)) }
func (a *asynqLogger) Error(args ...interface{}) { a.logger.Error(fmt.Sprint(args...)) }

func (a *asynqLogger) Fatal(args ...interface{}) {
	a.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}
