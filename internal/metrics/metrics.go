// Package metrics counts booking operations with Prometheus.
package metrics

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/spacebook/pkg/booking"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace     = "spacebook"
	labelResource = "resource_id"
	labelRole     = "role"
)

// Recorder implements booking.OperationLogger. It counts successful
// reservation creations and activations and forwards every entry to next.
type Recorder struct {
	next      booking.OperationLogger
	created   *prometheus.CounterVec
	activated *prometheus.CounterVec
}

// NewRecorder registers the counters with registerer. next may be nil.
func NewRecorder(registerer prometheus.Registerer, next booking.OperationLogger) (*Recorder, error) {
	if registerer == nil {
		return nil, errors.New("metrics: registerer is nil")
	}
	recorder := &Recorder{
		next: next,
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_created_total",
			Help:      "Reservations admitted.",
		}, []string{labelResource, labelRole}),
		activated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_activated_total",
			Help:      "Successful reservation check-ins.",
		}, []string{labelResource, labelRole}),
	}
	for _, collector := range []prometheus.Collector{recorder.created, recorder.activated} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return recorder, nil
}

// LogOperation forwards entry and updates the matching counter.
func (recorder *Recorder) LogOperation(ctx context.Context, entry booking.OperationLog) {
	if recorder.next != nil {
		recorder.next.LogOperation(ctx, entry)
	}
	if entry.Error != nil {
		return
	}
	switch entry.Operation {
	case booking.OperationCreate:
		recorder.created.WithLabelValues(entry.ResourceID.String(), entry.Role.String()).Inc()
	case booking.OperationActivate:
		recorder.activated.WithLabelValues(entry.ResourceID.String(), entry.Role.String()).Inc()
	}
}
