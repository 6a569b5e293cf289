package engine

import (
	"io"
	"time"

	"github.com/nats-io/nuid"
	"github.com/sirupsen/logrus"
)

// events emits the build log. Every line carries the invocation id so
// interleaved makes (tests, nested tools) stay distinguishable.
type events struct {
	log logrus.FieldLogger
}

func newEvents(log logrus.FieldLogger) *events {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &events{log: log.WithField("make", nuid.Next())}
}

func (e *events) ruleStarted(r *Rule, v Verdict) {
	e.log.WithFields(logrus.Fields{"rule": r.Name, "reason": v.String()}).Info("update")
}

func (e *events) ruleSkipped(r *Rule) {
	e.log.WithField("rule", r.Name).Debug("skip")
}

func (e *events) ruleWouldRun(r *Rule, v Verdict) {
	e.log.WithFields(logrus.Fields{"rule": r.Name, "reason": v.String()}).Info("would update")
}

func (e *events) ruleDone(r *Rule, took time.Duration) {
	e.log.WithFields(logrus.Fields{"rule": r.Name, "took": took.String()}).Info("done")
}

func (e *events) ruleFailed(r *Rule, err error) {
	e.log.WithFields(logrus.Fields{"rule": r.Name, "error": err.Error()}).Error("failed")
}

func (e *events) ruleAborted(r *Rule) {
	e.log.WithField("rule", r.Name).Warn("aborted")
}

func (e *events) ruleTouched(r *Rule) {
	e.log.WithField("rule", r.Name).Info("touched")
}

func (e *events) ruleCleaned(r *Rule) {
	e.log.WithField("rule", r.Name).Info("cleaned")
}

func (e *events) makeDone(s Summary) {
	e.log.WithFields(logrus.Fields{
		"total":   s.Total,
		"ran":     s.Ran,
		"skipped": s.Skipped,
		"failed":  s.Failed,
		"aborted": s.Aborted,
	}).Info("make finished")
}
