package objects

import (
	"encoding/hex"
	"sync"
	"unicode"
	"unicode/utf8"
)

// AliasTable maps names chosen by callers through CKA_ID or CKA_LABEL to
// NetHSM key identifiers. It lives as long as the process and is shared
// by every session.
type AliasTable struct {
	mu      sync.Mutex
	aliases map[string]string
}

func NewAliasTable() *AliasTable {
	return &AliasTable{aliases: make(map[string]string)}
}

// Set stores alias, replacing any previous target.
func (a *AliasTable) Set(alias, id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.aliases[alias] = id
}

// Get returns the identifier alias points to.
func (a *AliasTable) Get(alias string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.aliases[alias]
	return id, ok
}

// SetFromAttribute stores the alias derived from an attribute value and
// returns it.
func (a *AliasTable) SetFromAttribute(raw []byte, id string) string {
	alias := AliasFor(raw)
	a.Set(alias, id)
	return alias
}

// AliasFor turns attribute bytes into an alias. Letters and digits are
// kept verbatim. Anything else, including UTF-8 text with symbols, becomes
// the lowercase hex of the raw bytes.
func AliasFor(raw []byte) string {
	if utf8.Valid(raw) {
		s := string(raw)
		alnum := true
		for _, r := range s {
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
				alnum = false
				break
			}
		}
		if alnum {
			return s
		}
	}
	return hex.EncodeToString(raw)
}
