// Package synchronizer runs one stream's sync from its stored bookmark to
// exhaustion.
//
// Each page goes through the same sequence: fetch, validate, emit the
// records, flush the sink, advance the stream's state, persist, announce the
// new state. The state therefore never runs ahead of what the sink has
// accepted. A stream ends COMPLETED, FAILED or INTERRUPTED; only COMPLETED
// turns the progress marker into the bookmark the next sync starts from.
package synchronizer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tap-tilroy/pkg/catalog"
	"github.com/ajitpratap0/tap-tilroy/pkg/errors"
	"github.com/ajitpratap0/tap-tilroy/pkg/fetch"
	"github.com/ajitpratap0/tap-tilroy/pkg/logger"
	"github.com/ajitpratap0/tap-tilroy/pkg/metrics"
	"github.com/ajitpratap0/tap-tilroy/pkg/observability"
	"github.com/ajitpratap0/tap-tilroy/pkg/paginate"
	"github.com/ajitpratap0/tap-tilroy/pkg/schema"
	"github.com/ajitpratap0/tap-tilroy/pkg/singer"
	"github.com/ajitpratap0/tap-tilroy/pkg/sink"
	"github.com/ajitpratap0/tap-tilroy/pkg/state"
)

// finalPersistTimeout bounds the best-effort persist after a failure or
// cancellation.
const finalPersistTimeout = 10 * time.Second

// Result is the outcome of one stream's sync.
type Result struct {
	StreamID string
	Status   state.Status
	Err      error
	// Kind is a short failure label such as SERVER_ERROR or VALIDATION.
	Kind string
	// LastSafeBookmark is the committed bookmark after the sync.
	LastSafeBookmark *state.Bookmark
	Records          int64
	Skipped          int64
	Pages            int
	Duration         time.Duration
}

// OK reports whether the stream completed.
func (r Result) OK() bool {
	return r.Status == state.StatusCompleted
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithPolicy sets the validation policy.
func WithPolicy(p Policy) Option {
	return func(s *Synchronizer) { s.policy = p }
}

// WithPersistEvery persists state every n pages instead of every page.
func WithPersistEvery(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.persistEvery = n
		}
	}
}

// WithStartDate bounds the first sync of timestamp keyed streams.
func WithStartDate(t time.Time) Option {
	return func(s *Synchronizer) { s.startDate = t }
}

// WithClock sets the clock used for time_extracted.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Synchronizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// Synchronizer drives one stream. It is not reusable across concurrent runs
// of the same stream; the store enforces a single writer per stream.
type Synchronizer struct {
	desc     *catalog.StreamDescriptor
	executor fetch.Executor
	schemas  *schema.Registry
	store    *state.Store
	out      sink.Sink

	policy       Policy
	persistEvery int
	startDate    time.Time
	now          func() time.Time
	logger       *zap.Logger
	tracer       *observability.StreamTracer
}

// New creates a synchronizer for desc.
func New(desc *catalog.StreamDescriptor, executor fetch.Executor, schemas *schema.Registry, store *state.Store, out sink.Sink, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		desc:         desc,
		executor:     executor,
		schemas:      schemas,
		store:        store,
		out:          out,
		policy:       PolicyDefault,
		persistEvery: 1,
		now:          time.Now,
		logger:       zap.NewNop(),
		tracer:       observability.NewStreamTracer(desc.ID),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "synchronizer"))
	return s
}

// run carries the mutable state of one Run.
type run struct {
	*Synchronizer
	ctx    context.Context
	log    *zap.Logger
	pag    paginate.Paginator
	wm     *paginate.Watermark
	result Result
}

// Run syncs the stream and reports how it ended. It never panics on source
// errors; every failure is reported through the Result.
func (s *Synchronizer) Run(ctx context.Context) Result {
	id := s.desc.ID
	started := s.now()
	ctx = logger.WithStream(ctx, id)
	ctx, span := s.tracer.StartSpan(ctx, "sync")

	r := &run{
		Synchronizer: s,
		ctx:          ctx,
		log:          logger.FromContext(ctx, s.logger),
		result:       Result{StreamID: id},
	}
	r.execute()

	res := r.result
	res.Duration = s.now().Sub(started)
	res.Kind = errors.KindOf(res.Err)
	if res.Status == state.StatusInterrupted {
		res.Kind = "CANCELLED"
	}
	if st, ok := s.store.Get(id); ok && st.Bookmark != nil {
		b := *st.Bookmark
		res.LastSafeBookmark = &b
	}

	metrics.StreamSyncs.WithLabelValues(id, string(res.Status)).Inc()
	span.SetAttribute("status", string(res.Status))
	span.SetAttribute("records", res.Records)
	span.Finish(res.Err)

	fields := []zap.Field{
		zap.String("status", string(res.Status)),
		zap.Int64("records", res.Records),
		zap.Int64("skipped", res.Skipped),
		zap.Int("pages", res.Pages),
		zap.Duration("duration", res.Duration),
	}
	if res.LastSafeBookmark != nil {
		fields = append(fields, zap.String("bookmark", res.LastSafeBookmark.Value))
	}
	if res.Err != nil {
		r.log.Error("stream sync finished", append(fields, zap.String("kind", res.Kind), zap.Error(res.Err))...)
	} else {
		r.log.Info("stream sync finished", fields...)
	}
	return res
}

func (r *run) execute() {
	id := r.desc.ID
	if r.desc.ReplicationMethod == catalog.LogBased {
		r.result.Status = state.StatusFailed
		r.result.Err = errors.Newf(errors.ErrorTypeCapability, "stream %s: LOG_BASED replication is not supported", id)
		return
	}
	if _, err := r.schemas.Register(id, r.desc.Schema, r.desc.KeyProperties); err != nil {
		r.result.Status = state.StatusFailed
		r.result.Err = errors.Wrap(err, errors.ErrorTypeConfig, "register schema")
		return
	}
	if err := r.store.Acquire(id); err != nil {
		r.result.Status = state.StatusFailed
		r.result.Err = err
		return
	}
	defer r.store.Release(id)

	if err := r.start(); err != nil {
		r.fail(err)
		return
	}

	pending := 0
	for {
		if err := r.ctx.Err(); err != nil {
			r.interrupt(err)
			return
		}
		spec, ok := r.pag.Next()
		if !ok {
			break
		}
		if err := r.page(spec); err != nil {
			if ctxErr := r.ctx.Err(); ctxErr != nil {
				r.interrupt(ctxErr)
			} else {
				r.fail(err)
			}
			return
		}

		pending++
		if pending >= r.persistEvery && r.pag.Phase() != paginate.PhaseExhausted {
			if err := r.checkpoint(r.ctx); err != nil {
				r.fail(err)
				return
			}
			pending = 0
		}
	}

	if err := r.complete(); err != nil {
		r.fail(err)
		return
	}
	r.result.Status = state.StatusCompleted
}

// start announces the schema and builds the paginator from the stored
// state: the committed bookmark is the lower bound, and an unfinished
// window is resumed from its progress marker.
func (r *run) start() error {
	id := r.desc.ID
	prior, _ := r.store.Get(id)
	if r.desc.IsIncremental() && prior.ReplicationKey != "" && prior.ReplicationKey != r.desc.ReplicationKey {
		r.log.Warn("replication key changed, discarding stored bookmark",
			zap.String("previous", prior.ReplicationKey),
			zap.String("current", r.desc.ReplicationKey))
	}

	update := state.Update{Status: state.StatusRunning}
	if r.desc.IsIncremental() {
		update.ReplicationKey = r.desc.ReplicationKey
	}
	if err := r.store.Advance(id, update); err != nil {
		return err
	}
	prior, _ = r.store.Get(id)

	var lower *state.Bookmark
	if r.desc.IsIncremental() {
		switch {
		case prior.Bookmark != nil && !prior.Bookmark.IsZero():
			b, err := r.convert(*prior.Bookmark)
			if err != nil {
				return err
			}
			lower = &b
		case !r.startDate.IsZero() && r.desc.BookmarkKind == state.KindTimestamp:
			b := state.TimestampBookmark(r.startDate)
			lower = &b
		}
	}

	pag, err := paginate.New(r.desc.PaginatorConfig(lower))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "build paginator")
	}
	if prior.Progress != nil {
		if err := pag.Resume(*prior.Progress); err != nil {
			return errors.Wrap(err, errors.ErrorTypeState, "resume from progress marker")
		}
		r.log.Info("resuming interrupted sync",
			zap.Int("page", prior.Progress.Page),
			zap.Int("offset", prior.Progress.Offset),
			zap.String("cursor", prior.Progress.Cursor))
	}
	r.pag = pag
	r.wm, _ = pag.(*paginate.Watermark)

	fields := []zap.Field{zap.String("replication_method", string(r.desc.ReplicationMethod))}
	if lower != nil {
		fields = append(fields, zap.String("lower_bound", lower.Value))
	}
	r.log.Info("stream sync started", fields...)

	return r.out.Emit(singer.NewSchema(id, r.desc.Schema, r.desc.KeyProperties, r.desc.BookmarkProperties()))
}

// convert reinterprets a stored bookmark of another kind, as loaded from
// a legacy state document.
func (r *run) convert(b state.Bookmark) (state.Bookmark, error) {
	if b.Kind == r.desc.BookmarkKind {
		return b, nil
	}
	out, err := state.BookmarkFromValue(r.desc.BookmarkKind, b.Value)
	if err != nil {
		return state.Bookmark{}, errors.Wrapf(err, errors.ErrorTypeState,
			"stored %s bookmark %q does not fit a %s key", b.Kind, b.Value, r.desc.BookmarkKind)
	}
	return out, nil
}

// page runs one page cycle. An error leaves the stored state as it was
// after the previous page.
func (r *run) page(spec fetch.RequestSpec) error {
	var records []singer.Message
	_, err := r.tracer.TracePage(r.ctx, spec.Page, func(ctx context.Context) (int, error) {
		page, err := r.executor.Fetch(ctx, spec)
		if err != nil {
			return 0, err
		}
		// Cancelled while fetching: drop the page rather than emit part of it.
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		metrics.PagesFetched.WithLabelValues(r.desc.ID).Inc()
		r.result.Pages++

		records, err = r.validate(page)
		if err != nil {
			return 0, err
		}
		if err := r.pag.Observe(page); err != nil {
			return 0, err
		}
		return len(records), nil
	})
	if err != nil {
		return err
	}

	for _, msg := range records {
		if err := r.out.Emit(msg); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnection, "emit record")
		}
	}
	if err := r.out.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "flush sink")
	}
	r.result.Records += int64(len(records))
	metrics.RecordsEmitted.WithLabelValues(r.desc.ID).Add(float64(len(records)))

	marker := r.pag.Marker()
	update := state.Update{Progress: &marker}
	if r.wm != nil && r.desc.Sorted {
		b, err := r.wm.Bookmark()
		if err != nil {
			return err
		}
		if !b.IsZero() {
			update.Bookmark = &b
		}
	}
	if err := r.store.Advance(r.desc.ID, update); err != nil {
		return err
	}

	r.log.Debug("page emitted",
		zap.Int("page", spec.Page),
		zap.Int("records", len(records)),
		zap.String("phase", string(r.pag.Phase())))
	return nil
}

// validate turns a raw page into RECORD messages, applying the stream's
// transform, the schema and the incremental window.
func (r *run) validate(page *fetch.Page) ([]singer.Message, error) {
	id := r.desc.ID
	extracted := r.now()
	out := make([]singer.Message, 0, page.Len())

	for _, raw := range page.Records {
		rec := raw
		if r.desc.Transform != nil {
			var keep bool
			if rec, keep = r.desc.Transform(raw); !keep {
				r.skip("dropped")
				continue
			}
		}

		valid, err := r.schemas.Validate(id, rec)
		if err != nil {
			if err := r.invalid(err); err != nil {
				return nil, err
			}
			continue
		}

		if r.wm != nil {
			admit, err := r.track(valid)
			if err != nil {
				if err := r.invalid(err); err != nil {
					return nil, err
				}
				continue
			}
			if !admit {
				r.skip("filtered")
				continue
			}
		}
		out = append(out, singer.NewRecord(id, valid, extracted))
	}
	return out, nil
}

// track folds the record's replication key into the window and reports
// whether the record is inside it. A record without a key value is kept
// but not tracked.
func (r *run) track(rec fetch.Record) (bool, error) {
	value := rec[r.desc.ReplicationKey]
	if value == nil {
		return true, nil
	}
	b, err := state.BookmarkFromValue(r.desc.BookmarkKind, value)
	if err != nil {
		return false, &errors.ValidationError{
			Stream: r.desc.ID,
			Path:   r.desc.ReplicationKey,
			Reason: errors.ReasonTypeMismatch,
			Detail: err.Error(),
		}
	}
	admit, err := r.wm.Admits(b)
	if err != nil || !admit {
		return false, err
	}
	if _, err := r.wm.Track(value); err != nil {
		return false, err
	}
	return true, nil
}

// invalid applies the validation policy. A nil return means skip.
func (r *run) invalid(err error) error {
	var verr *errors.ValidationError
	if !errors.As(err, &verr) {
		return err
	}
	if !r.policy.Skips(verr) {
		return verr
	}
	r.skip(string(verr.Reason))
	r.log.Warn("skipping invalid record",
		zap.String("path", verr.Path),
		zap.String("reason", string(verr.Reason)),
		zap.String("detail", verr.Detail))
	return nil
}

func (r *run) skip(reason string) {
	r.result.Skipped++
	metrics.RecordsSkipped.WithLabelValues(r.desc.ID, reason).Inc()
}

// checkpoint persists the store and announces the persisted snapshot.
func (r *run) checkpoint(ctx context.Context) error {
	return r.store.Checkpoint(ctx, func(snap *state.State) error {
		if err := r.out.Emit(singer.NewState(snap)); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnection, "emit state")
		}
		return r.out.Flush()
	})
}

// complete finalizes the window into the committed bookmark.
func (r *run) complete() error {
	update := state.Update{ClearProgress: true, Status: state.StatusCompleted}
	if r.wm != nil {
		b, err := r.wm.Bookmark()
		if err != nil {
			return err
		}
		if !b.IsZero() {
			update.Bookmark = &b
		}
	}
	if err := r.store.Advance(r.desc.ID, update); err != nil {
		return err
	}
	if err := r.checkpoint(r.ctx); err != nil {
		return err
	}
	if update.Bookmark != nil && update.Bookmark.Kind == state.KindTimestamp {
		if t, err := update.Bookmark.Time(); err == nil {
			metrics.BookmarkTimestamp.WithLabelValues(r.desc.ID).Set(float64(t.Unix()))
		}
	}
	return nil
}

func (r *run) fail(err error) {
	r.result.Status = state.StatusFailed
	r.result.Err = err
	r.finish(state.StatusFailed)
}

func (r *run) interrupt(err error) {
	r.result.Status = state.StatusInterrupted
	r.result.Err = err
	r.finish(state.StatusInterrupted)
}

// finish records a non-completed status and makes a best-effort persist.
// The progress marker of the last emitted page is kept for resume.
func (r *run) finish(status state.Status) {
	if err := r.store.Advance(r.desc.ID, state.Update{Status: status}); err != nil {
		r.log.Error("failed to record stream status", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), finalPersistTimeout)
	defer cancel()
	if err := r.checkpoint(ctx); err != nil {
		r.log.Error("best-effort state persist failed", zap.Error(err))
	}
}
