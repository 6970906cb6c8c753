// Package tap runs every selected stream of a catalog and aggregates the
// outcome of the run.
//
// Streams run concurrently up to a configured limit and share the state
// store, the output sink and the credential provider. A stream failure does
// not stop its siblings, with one exception: a credential failure cancels
// the whole run, and the streams still running end INTERRUPTED.
package tap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ajitpratap0/tap-tilroy/pkg/catalog"
	"github.com/ajitpratap0/tap-tilroy/pkg/errors"
	"github.com/ajitpratap0/tap-tilroy/pkg/logger"
	"github.com/ajitpratap0/tap-tilroy/pkg/schema"
	"github.com/ajitpratap0/tap-tilroy/pkg/sink"
	"github.com/ajitpratap0/tap-tilroy/pkg/state"
	"github.com/ajitpratap0/tap-tilroy/pkg/synchronizer"
)

// Options control how streams are driven.
type Options struct {
	MaxConcurrentStreams int
	Policy               synchronizer.Policy
	PersistEvery         int
	StartDate            time.Time
	// Clock overrides time.Now for time_extracted; tests only.
	Clock func() time.Time
}

// Report is the outcome of a run.
type Report struct {
	RunID    string
	Results  []synchronizer.Result
	Duration time.Duration
}

// OK reports whether every stream completed.
func (r *Report) OK() bool {
	for _, res := range r.Results {
		if !res.OK() {
			return false
		}
	}
	return true
}

// Err aggregates the errors of streams that did not complete.
func (r *Report) Err() error {
	var merr *multierror.Error
	for _, res := range r.Results {
		if res.OK() {
			continue
		}
		err := res.Err
		if err == nil {
			err = fmt.Errorf("ended %s", res.Status)
		}
		merr = multierror.Append(merr, fmt.Errorf("stream %s: %w", res.StreamID, err))
	}
	return merr.ErrorOrNil()
}

// Result returns the result of stream id.
func (r *Report) Result(id string) (synchronizer.Result, bool) {
	for _, res := range r.Results {
		if res.StreamID == id {
			return res, true
		}
	}
	return synchronizer.Result{}, false
}

// Tap wires the catalog, executors, state store and sink of one run.
type Tap struct {
	catalog   *catalog.Registry
	schemas   *schema.Registry
	executors ExecutorFactory
	store     *state.Store
	out       sink.Sink
	opts      Options
	logger    *zap.Logger
}

// New creates a tap. The caller owns store and out and closes them after Run.
func New(reg *catalog.Registry, executors ExecutorFactory, store *state.Store, out sink.Sink, opts Options, logger *zap.Logger) *Tap {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxConcurrentStreams <= 0 {
		opts.MaxConcurrentStreams = 1
	}
	if opts.Policy == "" {
		opts.Policy = synchronizer.PolicyDefault
	}
	return &Tap{
		catalog:   reg,
		schemas:   schema.NewRegistry(logger),
		executors: executors,
		store:     store,
		out:       out,
		opts:      opts,
		logger:    logger.With(zap.String("component", "tap")),
	}
}

// Run syncs every selected stream and returns the report. The error is
// non-nil only when the run could not start; stream failures are in the
// report.
func (t *Tap) Run(ctx context.Context) (*Report, error) {
	selected := t.catalog.Selected()
	if len(selected) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "no streams selected")
	}

	report := &Report{RunID: uuid.NewString(), Results: make([]synchronizer.Result, len(selected))}
	ctx = logger.WithRunID(ctx, report.RunID)
	log := logger.FromContext(ctx, t.logger)
	started := time.Now()

	ids := make([]string, len(selected))
	for i, desc := range selected {
		ids[i] = desc.ID
	}
	log.Info("run started", zap.Strings("streams", ids), zap.Int("max_concurrent_streams", t.opts.MaxConcurrentStreams))

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	sem := semaphore.NewWeighted(int64(t.opts.MaxConcurrentStreams))
	var wg sync.WaitGroup
	for i, desc := range selected {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Streams that never started are reported as interrupted.
			report.Results[i] = synchronizer.Result{
				StreamID: desc.ID,
				Status:   state.StatusInterrupted,
				Err:      context.Cause(ctx),
				Kind:     "CANCELLED",
			}
			continue
		}
		wg.Add(1)
		go func(i int, desc *catalog.StreamDescriptor) {
			defer wg.Done()
			defer sem.Release(1)

			res := t.sync(ctx, desc)
			if fatal(res.Err) {
				log.Error("credential failure, cancelling run", zap.String("stream", desc.ID), zap.Error(res.Err))
				cancel(res.Err)
			}
			report.Results[i] = res
		}(i, desc)
	}
	wg.Wait()

	report.Duration = time.Since(started)
	t.log(log, report)
	return report, nil
}

func (t *Tap) sync(ctx context.Context, desc *catalog.StreamDescriptor) synchronizer.Result {
	exec, err := t.executors.Executor(desc)
	if err != nil {
		return synchronizer.Result{StreamID: desc.ID, Status: state.StatusFailed, Err: err, Kind: errors.KindOf(err)}
	}
	opts := []synchronizer.Option{
		synchronizer.WithPolicy(t.opts.Policy),
		synchronizer.WithPersistEvery(t.opts.PersistEvery),
		synchronizer.WithStartDate(t.opts.StartDate),
		synchronizer.WithLogger(t.logger),
	}
	if t.opts.Clock != nil {
		opts = append(opts, synchronizer.WithClock(t.opts.Clock))
	}
	return synchronizer.New(desc, exec, t.schemas, t.store, t.out, opts...).Run(ctx)
}

// fatal reports whether err means the run's credentials are unusable.
func fatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.IsType(err, errors.ErrorTypeCredential) {
		return true
	}
	var fe *errors.FetchError
	return errors.As(err, &fe) && fe.Kind == errors.FetchAuth
}

func (t *Tap) log(log *zap.Logger, report *Report) {
	completed := 0
	for _, res := range report.Results {
		if res.OK() {
			completed++
			continue
		}
		fields := []zap.Field{
			zap.String("stream", res.StreamID),
			zap.String("status", string(res.Status)),
			zap.String("kind", res.Kind),
		}
		if res.LastSafeBookmark != nil {
			fields = append(fields, zap.String("last_safe_bookmark", res.LastSafeBookmark.Value))
		}
		log.Warn("stream did not complete", append(fields, zap.Error(res.Err))...)
	}
	log.Info("run finished",
		zap.Int("streams", len(report.Results)),
		zap.Int("completed", completed),
		zap.Duration("duration", report.Duration))
}
