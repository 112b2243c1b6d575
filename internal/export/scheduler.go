package export

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/livesite/internal/metrics"
)

// writeTimeout bounds a single destination write.
const writeTimeout = 2 * time.Minute

// Destination receives each export payload.
type Destination interface {
	Name() string
	Write(ctx context.Context, data []byte) error
}

// Report summarizes one export run.
type Report struct {
	Bytes  int
	Wrote  []string
	Failed map[string]error
}

// Scheduler exports the store on an interval until stopped.
type Scheduler struct {
	src      Source
	dests    []Destination
	interval time.Duration
	log      *slog.Logger

	stop chan struct{}
	once sync.Once
	done sync.WaitGroup
}

func NewScheduler(src Source, dests []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		src:      src,
		dests:    dests,
		interval: interval,
		log:      logger.With("component", "export"),
		stop:     make(chan struct{}),
	}
}

// Start exports immediately and then every interval until ctx is done or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.done.Add(1)
	go func() {
		defer s.done.Done()
		defer cancel()
		go func() {
			select {
			case <-s.stop:
				cancel()
			case <-ctx.Done():
			}
		}()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			s.RunOnce(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop ends the loop and waits for an in-flight export. It is safe to call
// more than once, or without Start.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.done.Wait()
}

// RunOnce renders the export and hands it to every destination. A failing
// destination does not prevent the others from being written.
func (s *Scheduler) RunOnce(ctx context.Context) Report {
	rep := Report{Failed: map[string]error{}}

	var buf bytes.Buffer
	if err := ExportJSONL(ctx, s.src, &buf); err != nil {
		s.log.Error("rendering export", "err", err)
		return rep
	}
	rep.Bytes = buf.Len()

	for _, d := range s.dests {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := d.Write(wctx, buf.Bytes())
		cancel()
		if err != nil {
			metrics.ExportRuns.WithLabelValues(d.Name(), metrics.ResultError).Inc()
			s.log.Error("export write failed", "destination", d.Name(), "err", err)
			rep.Failed[d.Name()] = err
			continue
		}
		metrics.ExportRuns.WithLabelValues(d.Name(), metrics.ResultOK).Inc()
		rep.Wrote = append(rep.Wrote, d.Name())
	}

	s.log.Info("export done", "bytes", rep.Bytes, "wrote", len(rep.Wrote), "failed", len(rep.Failed))
	return rep
}
