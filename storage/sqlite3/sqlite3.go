// Package sqlite3 stores the key metadata cache in SQLite.
package sqlite3

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/niclabs/p11nethsm/nethsm"
	"github.com/niclabs/p11nethsm/storage"
)

func init() {
	storage.Register("sqlite3", func() (storage.KeyStorage, error) {
		conf, err := GetConfig()
		if err != nil {
			return nil, errors.Wrap(err, "sqlite3 config not defined")
		}
		return GetDatabase(conf.Path)
	})
}

// DB is a wrapper over a sql.DB object, complying with storage
// interface.
type DB struct {
	*sql.DB
	now func() time.Time
}

// Creates the tables if they doesn't exist yet.
func (db *DB) InitStorage() error {
	for _, stmt := range CreateStmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) SaveKey(slot string, key *storage.Key) error {
	meta, err := json.Marshal(key.Meta)
	if err != nil {
		return errors.Wrapf(err, "cannot encode metadata of %s", key.ID)
	}
	fetched := key.Fetched
	if fetched.IsZero() {
		fetched = db.now()
	}
	_, err = db.Exec(InsertKeyQuery, slot, key.ID, meta, key.Certificate, fetched.UnixNano())
	return err
}

func (db *DB) GetKey(slot, id string, maxAge time.Duration) (*storage.Key, error) {
	var meta, cert []byte
	var fetched int64
	oldest := db.now().Add(-maxAge).UnixNano()
	err := db.QueryRow(GetKeyQuery, slot, id, oldest).Scan(&meta, &cert, &fetched)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotCached
	}
	if err != nil {
		return nil, err
	}
	key := &storage.Key{
		ID:          id,
		Meta:        new(nethsm.PublicKey),
		Certificate: cert,
		Fetched:     time.Unix(0, fetched),
	}
	if err := json.Unmarshal(meta, key.Meta); err != nil {
		return nil, errors.Wrapf(err, "corrupted metadata for %s", id)
	}
	return key, nil
}

func (db *DB) DeleteKey(slot, id string) error {
	_, err := db.Exec(DeleteKeyQuery, slot, id)
	return err
}

func (db *DB) CloseStorage() error {
	return db.Close()
}

func GetDatabase(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// a shared in-memory database vanishes when its last connection closes
	db.SetMaxOpenConns(1)
	return &DB{DB: db, now: time.Now}, nil
}
