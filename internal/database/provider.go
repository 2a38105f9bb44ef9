package database

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kozaktomas/face-attendance/internal/config"
)

// Backend bundles the stores of one storage driver.
type Backend struct {
	Employees  EmployeeStore
	Events     EventStore
	Settings   SettingsStore
	Duplicates DuplicateFinder // nil when the driver cannot search vectors
	Close      func() error
}

// Opener opens a backend from configuration.
type Opener func(ctx context.Context, cfg *config.DatabaseConfig) (*Backend, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Opener)
)

// RegisterDriver makes a storage driver available by name.
// This is called from the driver packages' init functions to avoid import cycles.
func RegisterDriver(name string, open Opener) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if open == nil {
		panic("database: RegisterDriver opener is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("database: RegisterDriver called twice for driver " + name)
	}
	drivers[name] = open
}

// Drivers returns the registered driver names.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open opens the backend named by cfg.Driver.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (*Backend, error) {
	driversMu.RLock()
	open, ok := drivers[cfg.Driver]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown database driver %q (registered: %v)", cfg.Driver, Drivers())
	}
	b, err := open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.Driver, err)
	}
	return b, nil
}
