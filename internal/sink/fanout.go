package sink

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/AlsinafiAziz/metricpal-kiro/internal/config"
)

// Sink is a destination for normalized batches.
type Sink interface {
	Name() string
	Send(ctx context.Context, batch Batch) error
	Close() error
}

// Fanout sends each batch to every sink concurrently. One sink failing does
// not cancel the others.
type Fanout struct {
	sinks []Sink
}

func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

// FromConfig builds the sinks listed in cfg.Sink.Targets.
func FromConfig(cfg *config.Config) (*Fanout, error) {
	f := &Fanout{}
	for _, target := range cfg.Sink.Targets {
		var (
			s   Sink
			err error
		)
		switch target {
		case config.SinkTinybird:
			s, err = NewTinybirdClient(cfg.Tinybird)
		case config.SinkKafka:
			s, err = NewKafkaSink(cfg.Kafka)
		default:
			err = fmt.Errorf("unknown sink target %q", target)
		}
		if err != nil {
			f.Close()
			return nil, err
		}
		f.sinks = append(f.sinks, s)
	}
	return f, nil
}

func (f *Fanout) Names() []string {
	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.Name()
	}
	return names
}

func (f *Fanout) Send(ctx context.Context, batch Batch) error {
	if batch.Empty() || len(f.sinks) == 0 {
		return nil
	}

	errs := make([]error, len(f.sinks))
	var g errgroup.Group
	for i, s := range f.sinks {
		i, s := i, s
		g.Go(func() error {
			if err := s.Send(ctx, batch); err != nil {
				errs[i] = fmt.Errorf("%s: %w", s.Name(), err)
			}
			return nil
		})
	}
	g.Wait()

	return errors.Join(errs...)
}

func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Ping checks every sink that can report its health.
func (f *Fanout) Ping(ctx context.Context) error {
	var errs []error
	for _, s := range f.sinks {
		p, ok := s.(interface{ Ping(context.Context) error })
		if !ok {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
