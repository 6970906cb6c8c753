package catalog

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tap-tilroy/pkg/config"
	"github.com/ajitpratap0/tap-tilroy/pkg/errors"
)

// Registry holds the stream descriptors of a tap and their selection.
type Registry struct {
	mu       sync.RWMutex
	streams  map[string]*StreamDescriptor
	order    []string
	selected map[string]bool
	logger   *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		streams:  make(map[string]*StreamDescriptor),
		selected: make(map[string]bool),
		logger:   logger.With(zap.String("component", "catalog")),
	}
}

// Register adds a descriptor. Stream ids are unique.
func (r *Registry) Register(d *StreamDescriptor) error {
	if d == nil {
		return errors.New(errors.ErrorTypeConfig, "nil stream descriptor")
	}
	if err := d.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.streams[d.ID]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("stream %s already registered", d.ID))
	}
	r.streams[d.ID] = d.clone()
	r.order = append(r.order, d.ID)
	r.selected[d.ID] = d.Selected
	r.logger.Debug("stream registered",
		zap.String("stream", d.ID),
		zap.String("replication_method", string(d.ReplicationMethod)))
	return nil
}

// MustRegister registers every descriptor and panics on the first error.
// Intended for static stream tables built at init.
func (r *Registry) MustRegister(ds ...*StreamDescriptor) *Registry {
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	return r
}

// Get returns the descriptor for id.
func (r *Registry) Get(id string) (*StreamDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.streams[id]
	if !ok {
		return nil, errors.New(errors.ErrorTypeNotFound, fmt.Sprintf("stream %s not found", id))
	}
	return d, nil
}

// List returns every stream id in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.streams[id]
	return ok
}

// Select marks exactly ids as selected. Unknown ids are an error.
func (r *Registry) Select(ids ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]bool, len(r.streams))
	for _, id := range ids {
		if _, ok := r.streams[id]; !ok {
			return errors.New(errors.ErrorTypeNotFound, fmt.Sprintf("stream %s not found", id))
		}
		next[id] = true
	}
	for id := range r.streams {
		r.selected[id] = next[id]
	}
	return nil
}

// SetSelected changes one stream's selection.
func (r *Registry) SetSelected(id string, selected bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.streams[id]; !ok {
		return errors.New(errors.ErrorTypeNotFound, fmt.Sprintf("stream %s not found", id))
	}
	r.selected[id] = selected
	return nil
}

// IsSelected reports whether id takes part in the run.
func (r *Registry) IsSelected(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selected[id]
}

// Selected returns the selected descriptors in registration order.
func (r *Registry) Selected() []*StreamDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*StreamDescriptor, 0, len(r.order))
	for _, id := range r.order {
		if r.selected[id] {
			out = append(out, r.streams[id])
		}
	}
	return out
}

// ApplyConfig applies per-stream overrides from the tap configuration.
// Overrides naming unknown streams are rejected.
func (r *Registry) ApplyConfig(overrides map[string]config.StreamConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, sc := range overrides {
		d, ok := r.streams[id]
		if !ok {
			return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("config names unknown stream %s", id))
		}
		next := d.clone()
		if sc.Selected != nil {
			r.selected[id] = *sc.Selected
		}
		if sc.PageSize > 0 {
			next.PageSize = sc.PageSize
		}
		if sc.ReplicationMethod != "" {
			m, err := ParseReplicationMethod(sc.ReplicationMethod)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeConfig, "stream "+id)
			}
			next.ReplicationMethod = m
		}
		if sc.ReplicationKey != "" {
			next.ReplicationKey = sc.ReplicationKey
		}
		if err := next.Validate(); err != nil {
			return err
		}
		r.streams[id] = next
		r.logger.Info("applied stream override",
			zap.String("stream", id),
			zap.Bool("selected", r.selected[id]),
			zap.Int("page_size", next.PageSize),
			zap.String("replication_method", string(next.ReplicationMethod)))
	}
	return nil
}
