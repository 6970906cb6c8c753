package schema

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/tap-tilroy/pkg/errors"
	"github.com/ajitpratap0/tap-tilroy/pkg/json"
)

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))

	entry, err := r.Register("sales", salesSchema(), []string{"idTilroySale"})
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Version)

	again, err := r.Register("sales", salesSchema(), []string{"idTilroySale"})
	require.NoError(t, err)
	assert.Same(t, entry, again)

	changed := salesSchema()
	changed.Properties["channel"] = String()
	updated, err := r.Register("sales", changed, []string{"idTilroySale"})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.NotEqual(t, entry.Fingerprint, updated.Fingerprint)

	_, err = r.Register("bad", salesSchema(), []string{"nope"})
	assert.ErrorContains(t, err, "key property")

	_, err = r.Register("scalar", String(), nil)
	assert.ErrorContains(t, err, "object")

	assert.Equal(t, []string{"sales"}, r.List())
}

func TestRegistryValidate(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Register("sales", salesSchema(), []string{"idTilroySale"})
	require.NoError(t, err)

	_, err = r.Validate("unknown", map[string]interface{}{})
	assert.ErrorContains(t, err, "not found")

	_, err = r.Validate("sales", map[string]interface{}{"saleDate": "2024-01-01"})
	var verr *errors.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.True(t, verr.Structural())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := r.Validate("sales", map[string]interface{}{"idTilroySale": i, "saleDate": "2024-01-01"})
			assert.NoError(t, err)
			assert.Equal(t, int64(i), out["idTilroySale"])
		}(i)
	}
	wg.Wait()
}

func TestSchemaDocument(t *testing.T) {
	doc := []byte(`{
		"type": "object",
		"properties": {
			"id": {"type": "integer"},
			"price": {"type": ["number", "string", "null"]},
			"at": {"anyOf": [{"type": "string", "format": "date-time"}, {"type": "null"}]},
			"tags": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["id"]
	}`)

	var s Schema
	require.NoError(t, json.Unmarshal(doc, &s))

	assert.True(t, s.IsRequired("id"))
	at, ok := s.Lookup("at")
	require.True(t, ok)
	assert.Equal(t, FormatDateTime, at.Format)
	assert.True(t, at.Nullable())
	assert.Equal(t, []string{"at", "id", "price", "tags"}, s.FieldNames())

	out, err := json.Marshal(&s)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "object",
		"properties": {
			"id": {"type": "integer"},
			"price": {"type": ["number", "string", "null"]},
			"at": {"type": ["string", "null"], "format": "date-time"},
			"tags": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["id"]
	}`, string(out))
}
