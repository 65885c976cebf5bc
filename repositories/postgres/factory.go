package postgres

import (
	"context"
	"sync"

	"github.com/avaprime/spooky-logic/config"
	"github.com/avaprime/spooky-logic/repositories"
	"go.uber.org/zap"
)

// RepositoryFactory owns the pool shared by the governance, experiment and
// policy execution stores.
type RepositoryFactory struct {
	db     *DB
	logger *zap.Logger

	once  sync.Once
	repos *repositories.Repositories
}

// NewRepositoryFactory connects to PostgreSQL
func NewRepositoryFactory(cfg config.DatabaseConfig, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg, logger)
	if err != nil {
		return nil, err
	}
	return newFactory(db, logger), nil
}

func newFactory(db *DB, logger *zap.Logger) *RepositoryFactory {
	return &RepositoryFactory{db: db, logger: logger}
}

// InitSchema creates all tables used by the postgres repositories
func (f *RepositoryFactory) InitSchema(ctx context.Context) error {
	return f.db.InitSchema(ctx)
}

// NewRepositories returns the repository set. Every call returns the same
// instances.
func (f *RepositoryFactory) NewRepositories() *repositories.Repositories {
	f.once.Do(func() {
		f.repos = &repositories.Repositories{
			Governance:       NewGovernanceRepository(f.db, f.logger),
			Experiments:      NewExperimentRepository(f.db, f.logger),
			PolicyExecutions: NewPolicyExecutionRepository(f.db, f.logger),
		}
	})
	return f.repos
}

// GetTransactionManager returns a transaction manager over the shared pool
func (f *RepositoryFactory) GetTransactionManager() repositories.TransactionManager {
	return NewTransactionManager(f.db, f.logger)
}

// GetDB returns the database connection
func (f *RepositoryFactory) GetDB() *DB {
	return f.db
}

// Close closes the database connection
func (f *RepositoryFactory) Close() error {
	return f.db.Close()
}
