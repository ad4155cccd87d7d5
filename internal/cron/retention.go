package cron

import (
	"time"

	"go.uber.org/zap"
)

// Purger drops records older than a given age.
type Purger interface {
	PurgeOlderThan(age time.Duration) int
}

// Retention periodically purges tracked transactions past their retention age.
type Retention struct {
	logger *zap.Logger
	purger Purger
	spec   string
	age    time.Duration
}

func NewRetention(logger *zap.Logger, purger Purger, spec string, age time.Duration) *Retention {
	return &Retention{logger: logger, purger: purger, spec: spec, age: age}
}

func (r *Retention) Name() string { return "retention" }

func (r *Retention) Spec() string { return r.spec }

func (r *Retention) Run() {
	n := r.purger.PurgeOlderThan(r.age)
	if n > 0 {
		r.logger.Info("purged old records", zap.Int("count", n), zap.Duration("age", r.age))
	}
}
