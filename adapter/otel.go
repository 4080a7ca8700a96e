package adapter

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/srediag/shmsync/pkg/shm"
)

const instrumentationName = "github.com/srediag/shmsync"

// Instrument points config at the given OpenTelemetry providers. Nil
// providers fall back to the globally registered ones.
func Instrument(config *shm.Config, tp trace.TracerProvider, mp metric.MeterProvider) {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	config.Tracer = tp.Tracer(instrumentationName)
	config.Meter = mp.Meter(instrumentationName)
}
