package catalog

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/tap-tilroy/pkg/config"
	"github.com/ajitpratap0/tap-tilroy/pkg/errors"
	"github.com/ajitpratap0/tap-tilroy/pkg/paginate"
	"github.com/ajitpratap0/tap-tilroy/pkg/schema"
	"github.com/ajitpratap0/tap-tilroy/pkg/state"
)

func salesDescriptor() *StreamDescriptor {
	return &StreamDescriptor{
		ID: "sales",
		Schema: schema.Object(
			schema.RequiredProp("idTilroySale", schema.NotNull(schema.String())),
			schema.Prop("saleDate", schema.DateTime()),
			schema.Prop("totalAmount", schema.Number()),
			schema.Prop("customer_name", schema.String()),
		),
		KeyProperties:     []string{"idTilroySale"},
		ReplicationMethod: Incremental,
		ReplicationKey:    "saleDate",
		BookmarkKind:      state.KindTimestamp,
		Strategy:          paginate.StrategyOffset,
		PageSize:          500,
		Selected:          true,
	}
}

func shopsDescriptor() *StreamDescriptor {
	return &StreamDescriptor{
		ID:                "shops",
		Schema:            schema.Object(schema.Prop("tilroyId", schema.Integer()), schema.Prop("name", schema.String())),
		KeyProperties:     []string{"tilroyId"},
		ReplicationMethod: FullTable,
		PageSize:          100,
	}
}

func TestDescriptorValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(d *StreamDescriptor)
		wantErr string
	}{
		{name: "valid", mutate: func(*StreamDescriptor) {}},
		{name: "missing id", mutate: func(d *StreamDescriptor) { d.ID = "" }, wantErr: "stream id is required"},
		{name: "incremental without key", mutate: func(d *StreamDescriptor) { d.ReplicationKey = "" }, wantErr: "requires a replication key"},
		{name: "key not in schema", mutate: func(d *StreamDescriptor) { d.ReplicationKey = "updatedAt" }, wantErr: "not in the schema"},
		{name: "primary key not in schema", mutate: func(d *StreamDescriptor) { d.KeyProperties = []string{"id"} }, wantErr: "key property"},
		{name: "unknown method", mutate: func(d *StreamDescriptor) { d.ReplicationMethod = "SNAPSHOT" }, wantErr: "unknown replication method"},
		{name: "unknown bookmark kind", mutate: func(d *StreamDescriptor) { d.BookmarkKind = "uuid" }, wantErr: "unknown bookmark kind"},
		{name: "log based accepted", mutate: func(d *StreamDescriptor) { d.ReplicationMethod = LogBased }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := salesDescriptor()
			tt.mutate(d)
			err := d.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
		})
	}
}

func TestPaginatorConfig(t *testing.T) {
	lower := state.TimestampBookmark(mustTime(t, "2024-03-01T00:00:00Z"))

	d := salesDescriptor()
	cfg := d.PaginatorConfig(&lower)
	require.NotNil(t, cfg.Watermark)
	assert.Equal(t, "saleDate", cfg.Watermark.Field)
	assert.True(t, cfg.Watermark.Inclusive)
	assert.False(t, cfg.Watermark.Filter)

	d.StrictlyIncremental = true
	cfg = d.PaginatorConfig(&lower)
	assert.False(t, cfg.Watermark.Inclusive)
	assert.True(t, cfg.Watermark.Filter)

	assert.Nil(t, shopsDescriptor().PaginatorConfig(nil).Watermark)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	require.NoError(t, r.Register(salesDescriptor()))
	require.NoError(t, r.Register(shopsDescriptor()))

	err := r.Register(shopsDescriptor())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	assert.Equal(t, []string{"sales", "shops"}, r.List())
	assert.True(t, r.IsSelected("sales"))
	assert.False(t, r.IsSelected("shops"))

	_, err = r.Get("stock")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	require.NoError(t, r.Select("shops"))
	selected := r.Selected()
	require.Len(t, selected, 1)
	assert.Equal(t, "shops", selected[0].ID)

	assert.Error(t, r.Select("nope"))
}

func TestRegistryIsolatesDescriptors(t *testing.T) {
	r := NewRegistry(nil)
	d := salesDescriptor()
	require.NoError(t, r.Register(d))

	d.PageSize = 1
	d.KeyProperties[0] = "changed"

	got, err := r.Get("sales")
	require.NoError(t, err)
	assert.Equal(t, 500, got.PageSize)
	assert.Equal(t, []string{"idTilroySale"}, got.KeyProperties)
}

func TestApplyConfig(t *testing.T) {
	r := NewRegistry(nil).MustRegister(salesDescriptor(), shopsDescriptor())
	no, yes := false, true

	require.NoError(t, r.ApplyConfig(map[string]config.StreamConfig{
		"sales": {Selected: &no},
		"shops": {Selected: &yes, PageSize: 25},
	}))
	assert.False(t, r.IsSelected("sales"))
	shops, err := r.Get("shops")
	require.NoError(t, err)
	assert.Equal(t, 25, shops.PageSize)

	err = r.ApplyConfig(map[string]config.StreamConfig{"orders": {}})
	assert.Error(t, err)

	err = r.ApplyConfig(map[string]config.StreamConfig{"shops": {ReplicationMethod: "incremental"}})
	require.Error(t, err, "incremental without a replication key")

	require.NoError(t, r.ApplyConfig(map[string]config.StreamConfig{"sales": {ReplicationMethod: "full_table"}}))
	sales, err := r.Get("sales")
	require.NoError(t, err)
	assert.Equal(t, FullTable, sales.ReplicationMethod)
}

func TestDiscoverAndApplyCatalog(t *testing.T) {
	r := NewRegistry(nil).MustRegister(salesDescriptor(), shopsDescriptor())

	var buf bytes.Buffer
	require.NoError(t, r.Discover().Write(&buf))

	parsed, err := ParseCatalog(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, parsed.Streams, 2)

	sales := parsed.Streams[0]
	assert.Equal(t, "sales", sales.TapStreamID)
	assert.Equal(t, []string{"idTilroySale"}, sales.KeyProperties)
	assert.Equal(t, "saleDate", sales.ReplicationKey)
	assert.True(t, sales.IsSelected())
	assert.False(t, parsed.Streams[1].IsSelected())
	require.NotNil(t, sales.Schema)
	assert.Contains(t, sales.Schema.Properties, "customer_name")

	inclusion := map[string]interface{}{}
	for _, m := range sales.Metadata {
		if len(m.Breadcrumb) == 2 {
			inclusion[m.Breadcrumb[1]] = m.Metadata["inclusion"]
		}
	}
	assert.Equal(t, InclusionAutomatic, inclusion["idTilroySale"])
	assert.Equal(t, InclusionAutomatic, inclusion["saleDate"])
	assert.Equal(t, InclusionAvailable, inclusion["totalAmount"])

	// Flip selection, deselect one optional field and one automatic field.
	parsed.Streams[0].Metadata[0].Metadata["selected"] = false
	parsed.Streams[1].Metadata[0].Metadata["selected"] = true
	parsed.Streams[1].Metadata = append(parsed.Streams[1].Metadata,
		Metadata{Breadcrumb: []string{"properties", "name"}, Metadata: map[string]interface{}{"selected": false}},
		Metadata{Breadcrumb: []string{"properties", "tilroyId"}, Metadata: map[string]interface{}{"selected": false}},
	)
	parsed.Streams = append(parsed.Streams, Entry{TapStreamID: "customers"})

	require.NoError(t, r.ApplyCatalog(parsed))
	assert.False(t, r.IsSelected("sales"))
	assert.True(t, r.IsSelected("shops"))

	shops, err := r.Get("shops")
	require.NoError(t, err)
	assert.NotContains(t, shops.Schema.Properties, "name")
	assert.Contains(t, shops.Schema.Properties, "tilroyId")
}

func TestParseReplicationMethod(t *testing.T) {
	m, err := ParseReplicationMethod(" incremental ")
	require.NoError(t, err)
	assert.Equal(t, Incremental, m)

	_, err = ParseReplicationMethod("cdc")
	assert.Error(t, err)
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return v
}
