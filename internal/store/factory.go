package store

import (
	"fmt"

	"daytrader/internal/interfaces"
)

// NewSessionStore opens the backend selected by persistence.backend.
func NewSessionStore(c *Config) (interfaces.SessionStore, error) {
	switch c.Persistence.Backend {
	case "file":
		return NewFileStore(c.Persistence.Path), nil
	case "sqlite":
		return NewSQLiteStore(c.Persistence.Path)
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", c.Persistence.Backend)
	}
}
