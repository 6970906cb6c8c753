package testutil

import (
	"context"
	"os"
	"path/filepath"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/ajitpratap0/tap-tilroy/pkg/state"
)

// StoreSuite gives each test a context, a temporary directory, an in-memory
// sink and a file backed state store in that directory.
type StoreSuite struct {
	suite.Suite

	ctx context.Context
	dir string

	Sink  *MemorySink
	Store *state.Store
}

// SetupTest runs before each test.
func (s *StoreSuite) SetupTest() {
	s.ctx = Context(s.T(), DefaultTimeout)
	s.dir = s.T().TempDir()
	s.Sink = NewMemorySink()
	s.Store = s.OpenStore()
}

// TearDownTest runs after each test.
func (s *StoreSuite) TearDownTest() {
	if s.Store != nil {
		_ = s.Store.Close()
	}
}

// Context returns the test context.
func (s *StoreSuite) Context() context.Context {
	return s.ctx
}

// StatePath is the state file used by the suite's store.
func (s *StoreSuite) StatePath() string {
	return filepath.Join(s.dir, "state.json")
}

// OpenStore opens a fresh store over the suite's state file, as a new run
// would.
func (s *StoreSuite) OpenStore() *state.Store {
	store := state.NewStore(state.NewFileBackend(s.StatePath()), Logger(s.T()))
	require.NoError(s.T(), store.Load(s.ctx))
	return store
}

// Persisted decodes the state file.
func (s *StoreSuite) Persisted() *state.State {
	data, err := os.ReadFile(s.StatePath())
	require.NoError(s.T(), err)
	st, err := state.Decode(data)
	require.NoError(s.T(), err)
	return st
}

// WriteFile writes content under the suite directory and returns its path.
func (s *StoreSuite) WriteFile(name string, content []byte) string {
	path := filepath.Join(s.dir, name)
	require.NoError(s.T(), os.WriteFile(path, content, 0o600))
	return path
}
