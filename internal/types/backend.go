package types

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidBackend = errors.New("invalid persistence method")

// Backend selects the storage engine that answers a read.
type Backend string

const (
	BackendPostgres Backend = "POSTGRES"
	BackendMongo    Backend = "MONGO"
	BackendMemory   Backend = "MEMORY"
)

func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToUpper(strings.TrimSpace(s))); b {
	case BackendPostgres, BackendMongo, BackendMemory:
		return b, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidBackend, s)
	}
}
