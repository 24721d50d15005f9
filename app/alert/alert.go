package alert

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Alerter raises operator-facing signals for conditions that need a human,
// such as contradictory provider events or jobs that exhausted their
// persistence retries.
type Alerter interface {
	IntegrityViolation(ctx context.Context, entity string, entityID string, detail string)
	JobDeadLettered(ctx context.Context, jobID string, detail string)
}

// LogAlerter emits alerts as structured error logs. Deployments scrape these
// by the alert field.
type LogAlerter struct {
	logger logrus.FieldLogger
}

func NewLogAlerter(logger logrus.FieldLogger) *LogAlerter {
	return &LogAlerter{logger: logger}
}

func (a *LogAlerter) IntegrityViolation(_ context.Context, entity string, entityID string, detail string) {
	a.logger.WithFields(logrus.Fields{
		"alert":     "integrity_violation",
		"entity":    entity,
		"entity_id": entityID,
		"detail":    detail,
	}).Error("state integrity violation")
}

func (a *LogAlerter) JobDeadLettered(_ context.Context, jobID string, detail string) {
	a.logger.WithFields(logrus.Fields{
		"alert":  "job_dead_letter",
		"job_id": jobID,
		"detail": detail,
	}).Error("job moved to dead letter")
}
