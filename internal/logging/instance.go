// internal/logging/instance.go
package logging

import (
	"context"
	"sync"
)

var (
	instanceMu sync.Mutex
	instance   *Logger
)

// Instance returns the process-wide logger, creating it on first use.
// The first successful call wins: cfg and opts of later calls are ignored
// until ResetInstance. A nil cfg on the first call uses defaults.
func Instance(cfg *Config, opts ...Option) (*Logger, error) {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance != nil {
		return instance, nil
	}
	l, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	instance = l
	return instance, nil
}

// ResetInstance flushes and closes the process-wide logger and forgets it.
// The next Instance call builds a new one.
func ResetInstance() error {
	instanceMu.Lock()
	defer instanceMu.Unlock()

	if instance == nil {
		return nil
	}
	err := instance.Close(context.Background())
	instance = nil
	return err
}
