package catalog

import (
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tap-tilroy/pkg/errors"
	"github.com/ajitpratap0/tap-tilroy/pkg/json"
	"github.com/ajitpratap0/tap-tilroy/pkg/schema"
)

// Catalog is the Singer catalog document.
type Catalog struct {
	Streams []Entry `json:"streams"`
}

// Entry is one stream of a Singer catalog.
type Entry struct {
	TapStreamID       string         `json:"tap_stream_id"`
	Stream            string         `json:"stream"`
	Schema            *schema.Schema `json:"schema"`
	KeyProperties     []string       `json:"key_properties"`
	ReplicationMethod string         `json:"replication_method,omitempty"`
	ReplicationKey    string         `json:"replication_key,omitempty"`
	Metadata          []Metadata     `json:"metadata"`
}

// Metadata attaches properties to a breadcrumb. The empty breadcrumb is the
// stream itself; ["properties", name] is one field.
type Metadata struct {
	Breadcrumb []string               `json:"breadcrumb"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// Inclusion values.
const (
	InclusionAutomatic = "automatic"
	InclusionAvailable = "available"
)

// Discover renders the registry as a catalog with the current selection.
func (r *Registry) Discover() *Catalog {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c := &Catalog{Streams: make([]Entry, 0, len(r.order))}
	for _, id := range r.order {
		c.Streams = append(c.Streams, entryFor(r.streams[id], r.selected[id]))
	}
	return c
}

func entryFor(d *StreamDescriptor, selected bool) Entry {
	keys := d.KeyProperties
	if keys == nil {
		keys = []string{}
	}
	root := map[string]interface{}{
		"selected":                  selected,
		"inclusion":                 InclusionAvailable,
		"table-key-properties":      keys,
		"forced-replication-method": string(d.ReplicationMethod),
	}
	if d.IsIncremental() {
		root["valid-replication-keys"] = []string{d.ReplicationKey}
	}

	md := []Metadata{{Breadcrumb: []string{}, Metadata: root}}
	automatic := make(map[string]bool, len(keys)+1)
	for _, k := range keys {
		automatic[k] = true
	}
	if d.IsIncremental() {
		automatic[d.ReplicationKey] = true
	}
	for _, name := range d.Schema.FieldNames() {
		inclusion := InclusionAvailable
		if automatic[name] {
			inclusion = InclusionAutomatic
		}
		md = append(md, Metadata{
			Breadcrumb: []string{"properties", name},
			Metadata:   map[string]interface{}{"inclusion": inclusion},
		})
	}

	return Entry{
		TapStreamID:       d.ID,
		Stream:            d.ID,
		Schema:            d.Schema,
		KeyProperties:     keys,
		ReplicationMethod: string(d.ReplicationMethod),
		ReplicationKey:    d.ReplicationKey,
		Metadata:          md,
	}
}

// Write encodes c as indented JSON.
func (c *Catalog) Write(w io.Writer) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "encode catalog")
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// ParseCatalog decodes a Singer catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "parse catalog")
	}
	return &c, nil
}

// LoadCatalog reads and decodes a catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator supplied path
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "read catalog")
	}
	return ParseCatalog(data)
}

// rootMetadata returns the stream level metadata of e.
func (e *Entry) rootMetadata() map[string]interface{} {
	for _, m := range e.Metadata {
		if len(m.Breadcrumb) == 0 {
			return m.Metadata
		}
	}
	return nil
}

// IsSelected reads the stream level "selected" flag.
func (e *Entry) IsSelected() bool {
	selected, _ := e.rootMetadata()["selected"].(bool)
	return selected
}

// deselectedFields returns the properties explicitly deselected.
func (e *Entry) deselectedFields() map[string]bool {
	out := make(map[string]bool)
	for _, m := range e.Metadata {
		if len(m.Breadcrumb) != 2 || m.Breadcrumb[0] != "properties" {
			continue
		}
		if sel, ok := m.Metadata["selected"].(bool); ok && !sel {
			out[m.Breadcrumb[1]] = true
		}
	}
	return out
}

// ApplyCatalog selects streams the way the catalog does. Entries naming
// streams this tap does not know are ignored with a warning. Deselected
// fields are removed from the stream's schema unless they are automatic.
func (r *Registry) ApplyCatalog(c *Catalog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id := range r.selected {
		r.selected[id] = false
	}
	for i := range c.Streams {
		e := &c.Streams[i]
		id := e.TapStreamID
		if id == "" {
			id = e.Stream
		}
		d, ok := r.streams[id]
		if !ok {
			r.logger.Warn("catalog names unknown stream", zap.String("stream", id))
			continue
		}
		r.selected[id] = e.IsSelected()
		if !r.selected[id] {
			continue
		}

		drop := e.deselectedFields()
		if len(drop) == 0 {
			continue
		}
		next := d.clone()
		next.Schema = withoutFields(d, drop)
		r.streams[id] = next
		r.logger.Info("fields deselected by catalog",
			zap.String("stream", id),
			zap.Int("fields", len(d.Schema.Properties)-len(next.Schema.Properties)))
	}
	return nil
}

func withoutFields(d *StreamDescriptor, drop map[string]bool) *schema.Schema {
	keep := make(map[string]bool, len(d.KeyProperties)+1)
	for _, k := range d.KeyProperties {
		keep[k] = true
	}
	if d.ReplicationKey != "" {
		keep[d.ReplicationKey] = true
	}

	out := *d.Schema
	out.Properties = make(map[string]*schema.Schema, len(d.Schema.Properties))
	for name, child := range d.Schema.Properties {
		if drop[name] && !keep[name] {
			continue
		}
		out.Properties[name] = child
	}
	out.Required = nil
	for _, name := range d.Schema.Required {
		if _, ok := out.Properties[name]; ok {
			out.Required = append(out.Required, name)
		}
	}
	return &out
}
