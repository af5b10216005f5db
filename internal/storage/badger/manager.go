package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db          *BadgerDB
	server      interfaces.ServerStorage
	media       interfaces.MediaStorage
	session     interfaces.SessionStorage
	jobResult   interfaces.JobResultStorage
	vectorIndex interfaces.VectorIndexStorage
	logger      arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:          db,
		server:      NewServerStorage(db, logger),
		media:       NewMediaStorage(db, logger),
		session:     NewSessionStorage(db, logger),
		jobResult:   NewJobResultStorage(db, logger),
		vectorIndex: NewVectorIndexStorage(db, logger),
		logger:      logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// ServerStorage returns the media server storage interface
func (m *Manager) ServerStorage() interfaces.ServerStorage {
	return m.server
}

// MediaStorage returns the synced media data storage interface
func (m *Manager) MediaStorage() interfaces.MediaStorage {
	return m.media
}

// SessionStorage returns the play session storage interface
func (m *Manager) SessionStorage() interfaces.SessionStorage {
	return m.session
}

// JobResultStorage returns the job result log storage interface
func (m *Manager) JobResultStorage() interfaces.JobResultStorage {
	return m.jobResult
}

// VectorIndexStorage returns the vector index metadata storage interface
func (m *Manager) VectorIndexStorage() interfaces.VectorIndexStorage {
	return m.vectorIndex
}

// DB returns the underlying badgerhold store
func (m *Manager) DB() interface{} {
	if m.db != nil {
		return m.db.Store()
	}
	return nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
