package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/pvzzle/paytrack/internal/logging"
)

const stopTimeout = 5 * time.Second

// Task is one scheduled unit of work.
type Task interface {
	Name() string
	Spec() string
	Run()
}

type Runner struct {
	logger *zap.Logger
	c      *cron.Cron
	tasks  int
}

func NewRunner(logger *zap.Logger, tasks ...Task) (*Runner, error) {
	logger = logging.WithPackage(logger)

	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{logger.Sugar()}),
		cron.SkipIfStillRunning(cronLogger{logger.Sugar()}),
	))

	for _, task := range tasks {
		name := task.Name()
		if _, err := c.AddJob(task.Spec(), job{logger: logger, task: task}); err != nil {
			return nil, fmt.Errorf("add job %v: %w", name, err)
		}
		logger.Info("scheduled task", zap.String("task", name), zap.String("spec", task.Spec()))
	}

	return &Runner{logger: logger, c: c, tasks: len(tasks)}, nil
}

func (r *Runner) Start() {
	r.logger.Info("starting cron", zap.Int("num_jobs", r.tasks))
	r.c.Start()
}

// Stop waits for running jobs up to a fixed timeout.
func (r *Runner) Stop() {
	r.logger.Info("stopping cron")
	ctx := r.c.Stop()
	select {
	case <-ctx.Done():
		r.logger.Info("stopped cron")
	case <-time.After(stopTimeout):
		r.logger.Error("timed out while stopping cron")
	}
}

type job struct {
	logger *zap.Logger
	task   Task
}

func (j job) Run() {
	start := time.Now()
	j.task.Run()
	j.logger.Debug("task finished", zap.String("task", j.task.Name()), zap.Duration("took", time.Since(start)))
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
