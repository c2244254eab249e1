// Package handoff holds the pending-clients map shared between the login
// app and the base app, confined behind a mutex.
package handoff

import (
	"net/netip"
	"sync"

	xblowfish "golang.org/x/crypto/blowfish"
)

// PendingClient is a successfully-logged-in client waiting to redeem its
// login_key against the base app.
type PendingClient struct {
	Addr     netip.AddrPort
	Blowfish *xblowfish.Cipher
	Username string
}

// Table is a login_key -> PendingClient map guarded by a mutex, populated
// by the login app and drained by the base app on ClientAuth.
type Table struct {
	mu      sync.Mutex
	clients map[uint32]PendingClient
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{clients: make(map[uint32]PendingClient)}
}

// Put registers loginKey for later redemption.
func (t *Table) Put(loginKey uint32, c PendingClient) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clients[loginKey] = c
}

// Take removes and returns the pending client for loginKey, if any.
func (t *Table) Take(loginKey uint32) (PendingClient, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.clients[loginKey]
	if ok {
		delete(t.clients, loginKey)
	}
	return c, ok
}
