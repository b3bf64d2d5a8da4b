package objects

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAliasFor(t *testing.T) {
	assert.Equal(t, "AB12", AliasFor([]byte("AB12")))
	assert.Equal(t, "dead", AliasFor([]byte{0xDE, 0xAD}))
	assert.Equal(t, "", AliasFor(nil))
	assert.Equal(t, "clé1", AliasFor([]byte("clé1")))
	// printable but not alphanumeric falls back to the raw bytes
	assert.Equal(t, "612d62", AliasFor([]byte("a-b")))
	assert.Equal(t, "6120c3a9", AliasFor([]byte("a é")))
}

func TestAliasTable(t *testing.T) {
	aliases := NewAliasTable()
	_, ok := aliases.Get("web")
	assert.False(t, ok)

	assert.Equal(t, "web", aliases.SetFromAttribute([]byte("web"), "k1"))
	assert.Equal(t, "dead", aliases.SetFromAttribute([]byte{0xde, 0xad}, "k2"))
	aliases.Set("web", "k3")

	id, ok := aliases.Get("web")
	assert.True(t, ok)
	assert.Equal(t, "k3", id)
	id, ok = aliases.Get("dead")
	assert.True(t, ok)
	assert.Equal(t, "k2", id)
}

func TestAliasTableConcurrent(t *testing.T) {
	aliases := NewAliasTable()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			aliases.Set("shared", "k")
			aliases.Get("shared")
		}()
	}
	wg.Wait()
	id, ok := aliases.Get("shared")
	assert.True(t, ok)
	assert.Equal(t, "k", id)
}
