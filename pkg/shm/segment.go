package shm

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/srediag/shmsync/api"
	internalshm "github.com/srediag/shmsync/internal/shm"
)

var _ api.SharedMemorySegment = (*segment)(nil)

// segment owns its mapped region exclusively.
type segment struct {
	name     string
	region   *internalshm.MappedRegion
	id       string
	tracer   trace.Tracer
	failFast bool
}

func (s *segment) Name() string { return s.name }

func (s *segment) Bytes() []byte { return s.region.Addr }

func (s *segment) Size() int { return s.region.Size }

func (s *segment) Created() bool { return s.region.Created }

func (s *segment) Close() error {
	err := s.close()
	if err != nil && s.failFast {
		failFast(err)
	}
	return err
}

func (s *segment) Detach() error {
	err := s.detach()
	if err != nil && s.failFast {
		failFast(err)
	}
	return err
}

func (s *segment) close() error {
	ctx, span := s.tracer.Start(context.Background(), "shm.CloseSegment",
		trace.WithAttributes(attribute.String("shm.name", s.region.Name)))
	defer span.End()

	untrack(s.id)
	if err := internalshm.UnmapRegion(ctx, s.region); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	segmentCloses.WithLabelValues("close").Inc()
	internalLogger.infof("close shared memory name=%s, unlinked", s.region.Name)
	return nil
}

func (s *segment) detach() error {
	untrack(s.id)
	if err := internalshm.DetachRegion(s.region); err != nil {
		return err
	}
	segmentCloses.WithLabelValues("detach").Inc()
	internalLogger.infof("detach shared memory name=%s", s.region.Name)
	return nil
}

// release is what CloseAll runs: the creator removes the name, everyone
// else only drops its view.
func (s *segment) release() error {
	if s.region.Created {
		return s.close()
	}
	return s.detach()
}
