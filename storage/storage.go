// Package storage caches NetHSM key metadata between enumerations.
package storage

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/niclabs/p11nethsm/nethsm"
)

// ErrNotCached is returned when a key is not stored or is older than the
// requested age.
var ErrNotCached = errors.New("key not cached")

// Key is the cached view of one NetHSM key. Certificate is nil when the
// key has none.
type Key struct {
	ID          string
	Meta        *nethsm.PublicKey
	Certificate []byte
	Fetched     time.Time
}

type KeyStorage interface {
	// Executes the logic necessary to initialize the storage.
	InitStorage() error

	// Saves the metadata of a key of a slot, replacing older entries.
	SaveKey(slot string, key *Key) error

	// Retrieves a key fetched less than maxAge ago, or ErrNotCached.
	GetKey(slot, id string, maxAge time.Duration) (*Key, error)

	// Drops a key of a slot. Missing keys are not an error.
	DeleteKey(slot, id string) error

	// Finalizes the use of the storage. The storage is not usable
	// If this method is called.
	CloseStorage() error
}

// Opener builds a storage from its configuration.
type Opener func() (KeyStorage, error)

var (
	openersMu sync.RWMutex
	openers   = make(map[string]Opener)
)

// Register makes a storage type available to NewDatabase. Backends call
// it from init.
func Register(dbType string, open Opener) {
	openersMu.Lock()
	defer openersMu.Unlock()
	if _, dup := openers[dbType]; dup {
		panic("storage: Register called twice for " + dbType)
	}
	openers[dbType] = open
}

// NewDatabase opens and initializes the storage of the given type.
func NewDatabase(dbType string) (KeyStorage, error) {
	openersMu.RLock()
	open, ok := openers[dbType]
	openersMu.RUnlock()
	if !ok {
		return nil, errors.Errorf("storage option %q not found", dbType)
	}
	db, err := open()
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open %s storage", dbType)
	}
	if err := db.InitStorage(); err != nil {
		_ = db.CloseStorage()
		return nil, errors.Wrapf(err, "cannot initialize %s storage", dbType)
	}
	return db, nil
}
