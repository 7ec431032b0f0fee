// Package registry persists the fleet's server list. The orchestration
// engine treats it as read-mostly input for allocation and monitoring
// initialization.
package registry

import (
	"fmt"

	"github.com/steamfleet/shepherd/pkg/types"
)

// Registry is the configuration collaborator consumed by the engine.
type Registry interface {
	// List returns all known servers.
	List() ([]types.ServerIdentity, error)

	// FindByName returns the server with the given name, or ErrNotFound.
	FindByName(name string) (types.ServerIdentity, error)

	// Save upserts a server record.
	Save(ident types.ServerIdentity) error

	// Delete removes a server record. Deleting an unknown name is an
	// ErrNotFound.
	Delete(name string) error

	Close() error
}

// Validate checks a record before it is persisted.
func Validate(ident types.ServerIdentity) error {
	if ident.Name == "" {
		return fmt.Errorf("server name must not be empty")
	}
	if ident.Map == "" {
		return fmt.Errorf("server %s: map must not be empty", ident.Name)
	}
	if ident.Port <= 0 || ident.Port > 65535 {
		return fmt.Errorf("server %s: invalid game port %d", ident.Name, ident.Port)
	}
	if ident.RconPort <= 0 || ident.RconPort > 65535 {
		return fmt.Errorf("server %s: invalid rcon port %d", ident.Name, ident.RconPort)
	}
	if ident.Port == ident.RconPort {
		return fmt.Errorf("server %s: game and rcon port collide on %d", ident.Name, ident.Port)
	}
	if ident.ClusterID == "" {
		return fmt.Errorf("server %s: cluster id must not be empty", ident.Name)
	}
	if ident.MaxPlayers <= 0 {
		return fmt.Errorf("server %s: max players must be positive", ident.Name)
	}
	return nil
}
