package tap

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/ajitpratap0/tap-tilroy/pkg/catalog"
	"github.com/ajitpratap0/tap-tilroy/pkg/errors"
	"github.com/ajitpratap0/tap-tilroy/pkg/fetch"
	"github.com/ajitpratap0/tap-tilroy/pkg/paginate"
	"github.com/ajitpratap0/tap-tilroy/pkg/schema"
	"github.com/ajitpratap0/tap-tilroy/pkg/state"
	"github.com/ajitpratap0/tap-tilroy/pkg/synchronizer"
	"github.com/ajitpratap0/tap-tilroy/pkg/testutil"
)

func stream(id string) *catalog.StreamDescriptor {
	return &catalog.StreamDescriptor{
		ID: id,
		Schema: schema.Object(
			schema.RequiredProp("id", schema.NotNull(schema.String())),
			schema.RequiredProp("updatedAt", schema.DateTime()),
		),
		KeyProperties:     []string{"id"},
		ReplicationMethod: catalog.Incremental,
		ReplicationKey:    "updatedAt",
		BookmarkKind:      state.KindTimestamp,
		Sorted:            true,
		Strategy:          paginate.StrategyOffset,
		PageSize:          2,
		Selected:          true,
	}
}

func rows(prefix string, n int) *testutil.Source {
	records := make([]fetch.Record, 0, n)
	for i := 1; i <= n; i++ {
		records = append(records, fetch.Record{
			"id":        fmt.Sprintf("%s-%d", prefix, i),
			"updatedAt": time.Date(2024, 5, i, 8, 0, 0, 0, time.UTC).Format(time.RFC3339),
		})
	}
	return testutil.NewSource(state.KindTimestamp, records...)
}

type TapSuite struct {
	testutil.StoreSuite
}

func TestTapSuite(t *testing.T) {
	suite.Run(t, new(TapSuite))
}

func (s *TapSuite) registry(ids ...string) *catalog.Registry {
	reg := catalog.NewRegistry(testutil.Logger(s.T()))
	for _, id := range ids {
		s.Require().NoError(reg.Register(stream(id)))
	}
	return reg
}

func (s *TapSuite) tap(reg *catalog.Registry, execs map[string]fetch.Executor, max int) *Tap {
	factory := ExecutorFactoryFunc(func(desc *catalog.StreamDescriptor) (fetch.Executor, error) {
		exec, ok := execs[desc.ID]
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeConfig, "no executor for %s", desc.ID)
		}
		return exec, nil
	})
	return New(reg, factory, s.Store, s.Sink, Options{MaxConcurrentStreams: max}, testutil.Logger(s.T()))
}

func (s *TapSuite) TestAllStreamsComplete() {
	tp := s.tap(s.registry("sales", "orders"), map[string]fetch.Executor{
		"sales":  rows("s", 5),
		"orders": rows("o", 3),
	}, 2)

	report, err := tp.Run(s.Context())
	s.Require().NoError(err)
	s.True(report.OK())
	s.NoError(report.Err())
	s.NotEmpty(report.RunID)
	s.Len(report.Results, 2)

	persisted := s.Persisted()
	for _, id := range []string{"sales", "orders"} {
		st := persisted.Streams[id]
		s.Equal(state.StatusCompleted, st.Status, id)
		s.Nil(st.Progress, id)
	}
	s.Equal("2024-05-05T08:00:00Z", persisted.Streams["sales"].Bookmark.Value)
	s.Equal("2024-05-03T08:00:00Z", persisted.Streams["orders"].Bookmark.Value)
	s.Len(s.Sink.Records("sales"), 5)
	s.Len(s.Sink.Records("orders"), 3)
}

func (s *TapSuite) TestStreamFailureDoesNotStopSiblings() {
	failing := rows("o", 5).FailFrom(2, &errors.FetchError{Kind: errors.FetchServerError, StatusCode: 502, Attempts: 6})
	tp := s.tap(s.registry("sales", "orders"), map[string]fetch.Executor{
		"sales":  rows("s", 5),
		"orders": failing,
	}, 2)

	report, err := tp.Run(s.Context())
	s.Require().NoError(err)
	s.False(report.OK())

	sales, _ := report.Result("sales")
	s.Equal(state.StatusCompleted, sales.Status)

	orders, _ := report.Result("orders")
	s.Equal(state.StatusFailed, orders.Status)
	s.Equal("SERVER_ERROR", orders.Kind)
	s.Require().NotNil(orders.LastSafeBookmark)
	s.Equal("2024-05-02T08:00:00Z", orders.LastSafeBookmark.Value)

	s.Require().Error(report.Err())
	s.Contains(report.Err().Error(), "stream orders")
	s.NotContains(report.Err().Error(), "stream sales")
}

func (s *TapSuite) TestCredentialFailureCancelsRun() {
	blocked := rows("o", 6)
	waiting := fetch.ExecutorFunc(func(ctx context.Context, spec fetch.RequestSpec) (*fetch.Page, error) {
		if spec.Offset > 0 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return blocked.Fetch(ctx, spec)
	})
	tp := s.tap(s.registry("sales", "orders", "shops"), map[string]fetch.Executor{
		"sales":  rows("s", 4).FailOn(1, errors.New(errors.ErrorTypeCredential, "credential refresh failed")),
		"orders": waiting,
		"shops":  rows("p", 1),
	}, 2)

	report, err := tp.Run(s.Context())
	s.Require().NoError(err)
	s.False(report.OK())

	sales, _ := report.Result("sales")
	s.Equal(state.StatusFailed, sales.Status)
	s.Equal("AUTH", sales.Kind)

	for _, id := range []string{"orders", "shops"} {
		res, ok := report.Result(id)
		s.Require().True(ok, id)
		s.Equal(state.StatusInterrupted, res.Status, id)
		s.Equal("CANCELLED", res.Kind, id)
	}
}

func (s *TapSuite) TestMissingExecutorFailsStream() {
	tp := s.tap(s.registry("sales", "orders"), map[string]fetch.Executor{
		"sales": rows("s", 2),
	}, 1)

	report, err := tp.Run(s.Context())
	s.Require().NoError(err)

	orders, _ := report.Result("orders")
	s.Equal(state.StatusFailed, orders.Status)
	s.True(errors.IsType(orders.Err, errors.ErrorTypeConfig))
	sales, _ := report.Result("sales")
	s.True(sales.OK())
}

func (s *TapSuite) TestConcurrencyLimit() {
	var inFlight, peak int64
	execs := make(map[string]fetch.Executor)
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		src := rows(id, 3)
		execs[id] = fetch.ExecutorFunc(func(ctx context.Context, spec fetch.RequestSpec) (*fetch.Page, error) {
			n := atomic.AddInt64(&inFlight, 1)
			defer atomic.AddInt64(&inFlight, -1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			return src.Fetch(ctx, spec)
		})
	}

	report, err := s.tap(s.registry(ids...), execs, 2).Run(s.Context())
	s.Require().NoError(err)
	s.True(report.OK())
	s.LessOrEqual(atomic.LoadInt64(&peak), int64(2))
}

func (s *TapSuite) TestResumeAcrossRuns() {
	reg := s.registry("sales")
	first := rows("s", 6).FailOn(2, &errors.FetchError{Kind: errors.FetchTransport, Attempts: 6})
	report, err := s.tap(reg, map[string]fetch.Executor{"sales": first}, 1).Run(s.Context())
	s.Require().NoError(err)
	s.False(report.OK())

	s.Require().NoError(s.Store.Close())
	s.Store = s.OpenStore()
	s.Sink = testutil.NewMemorySink()

	second := rows("s", 6)
	report, err = s.tap(reg, map[string]fetch.Executor{"sales": second}, 1).Run(s.Context())
	s.Require().NoError(err)
	s.True(report.OK())
	s.Equal(2, second.Specs()[0].Offset)
	s.Equal([]interface{}{"s-3", "s-4", "s-5", "s-6"}, s.Sink.Values("sales", "id"))
}

func (s *TapSuite) TestNoStreamsSelected() {
	reg := s.registry("sales")
	s.Require().NoError(reg.SetSelected("sales", false))
	_, err := s.tap(reg, nil, 1).Run(s.Context())
	s.Error(err)
}

func TestReportErr(t *testing.T) {
	r := &Report{}
	assert.True(t, r.OK())
	assert.NoError(t, r.Err())

	r.Results = []synchronizer.Result{
		{StreamID: "a", Status: state.StatusCompleted},
		{StreamID: "b", Status: state.StatusFailed, Err: errors.New(errors.ErrorTypeConnection, "boom")},
		{StreamID: "c", Status: state.StatusInterrupted},
	}
	assert.False(t, r.OK())
	require.Error(t, r.Err())
	assert.Contains(t, r.Err().Error(), "2 errors occurred")
	assert.Contains(t, r.Err().Error(), "stream b: connection: boom")
	assert.Contains(t, r.Err().Error(), "stream c: ended INTERRUPTED")
}

func TestFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"credential", errors.New(errors.ErrorTypeCredential, "refresh failed"), true},
		{"auth rejected", &errors.FetchError{Kind: errors.FetchAuth, StatusCode: 401}, true},
		{"wrapped auth", fmt.Errorf("page 3: %w", &errors.FetchError{Kind: errors.FetchAuth}), true},
		{"server error", &errors.FetchError{Kind: errors.FetchServerError}, false},
		{"cancelled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fatal(tt.err))
		})
	}
}
