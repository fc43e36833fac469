package service

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Workflow names used as metric labels.
const (
	WorkflowRegister      = "register"
	WorkflowVerify        = "verify"
	WorkflowCreateUser    = "create_user"
	WorkflowResetPassword = "reset_password"
	WorkflowApplyReset    = "update_password"
)

var (
	workflowTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "challenge_workflow_total",
			Help: "Challenge workflows by outcome (success or the error kind)",
		},
		[]string{"workflow", "outcome"},
	)

	workflowDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "challenge_workflow_duration_seconds",
			Help:    "Challenge workflow duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"workflow"},
	)

	tokensSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "challenge_tokens_swept_total",
			Help: "Stale challenge tokens deleted by the sweep worker",
		},
	)
)

// RegisterMetrics registers the service collectors with reg. Collectors that
// are already registered are left in place.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{workflowTotal, workflowDuration, tokensSweptTotal} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

func observeWorkflow(workflow string, start time.Time, outcome string) {
	workflowTotal.WithLabelValues(workflow, outcome).Inc()
	workflowDuration.WithLabelValues(workflow).Observe(time.Since(start).Seconds())
}
