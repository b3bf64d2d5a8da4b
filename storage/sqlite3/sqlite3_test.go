package sqlite3

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niclabs/p11nethsm/nethsm"
	"github.com/niclabs/p11nethsm/storage"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := GetDatabase(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	require.NoError(t, db.InitStorage())
	t.Cleanup(func() { _ = db.CloseStorage() })
	return db
}

func TestSaveAndGetKey(t *testing.T) {
	db := openTestDB(t)
	meta := &nethsm.PublicKey{
		Type:       nethsm.KeyTypeECP256,
		Mechanisms: []nethsm.KeyMechanism{nethsm.MechanismECDSASignature},
		Public:     &nethsm.KeyPublicData{Data: []byte{4, 1, 2}},
	}
	require.NoError(t, db.SaveKey("slot-a", &storage.Key{ID: "k1", Meta: meta, Certificate: []byte{0x30}}))

	key, err := db.GetKey("slot-a", "k1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, meta, key.Meta)
	assert.Equal(t, []byte{0x30}, key.Certificate)

	_, err = db.GetKey("slot-b", "k1", time.Minute)
	assert.ErrorIs(t, err, storage.ErrNotCached)

	require.NoError(t, db.DeleteKey("slot-a", "k1"))
	_, err = db.GetKey("slot-a", "k1", time.Minute)
	assert.ErrorIs(t, err, storage.ErrNotCached)
	assert.NoError(t, db.DeleteKey("slot-a", "k1"))
}

func TestExpiredKeysAreNotReturned(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()
	db.now = func() time.Time { return now }

	require.NoError(t, db.SaveKey("slot", &storage.Key{ID: "k1", Meta: &nethsm.PublicKey{Type: nethsm.KeyTypeRSA}}))
	key, err := db.GetKey("slot", "k1", time.Second)
	require.NoError(t, err)
	assert.Nil(t, key.Certificate)

	db.now = func() time.Time { return now.Add(2 * time.Second) }
	_, err = db.GetKey("slot", "k1", time.Second)
	assert.ErrorIs(t, err, storage.ErrNotCached)
}

func TestNewDatabaseFromConfig(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("sqlite3.path", filepath.Join(t.TempDir(), "registered.db"))

	db, err := storage.NewDatabase("sqlite3")
	require.NoError(t, err)
	defer db.CloseStorage()
	require.NoError(t, db.SaveKey("s", &storage.Key{ID: "k", Meta: &nethsm.PublicKey{}}))

	_, err = storage.NewDatabase("redis")
	assert.Error(t, err)
}
