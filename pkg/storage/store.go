package storage

import (
	"errors"

	"github.com/cuemby/cloner/pkg/types"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")
	// ErrLocked is returned when another process holds the database open for writing
	ErrLocked = errors.New("database is locked by another process")
)

// Store persists reconciliation results for the external rotation consumer
type Store interface {
	// Passes
	SavePass(pass *types.ReconciliationPass) error
	GetPass(id string) (*types.ReconciliationPass, error)
	ListPasses() ([]*types.ReconciliationPass, error)
	DeletePass(id string) error
	PrunePasses(keep int) (int, error)

	// Latest flagged hosts per cluster
	LatestHosts(cluster string) ([]types.HostToUpdate, error)
	ListLatestHosts() (map[string][]types.HostToUpdate, error)

	// Utility
	Close() error
}
