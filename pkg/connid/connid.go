// Package connid mints connection identifiers used purely for
// observability: correlating log lines and metrics labels across a
// connection's lifetime. It is never transmitted on the wire.
package connid

import "github.com/rs/xid"

// ID is a globally unique, lexically time-sortable connection
// identifier.
type ID struct {
	x xid.ID
}

// New mints a fresh ID.
func New() ID {
	return ID{x: xid.New()}
}

// String renders the ID in its canonical base32 form.
func (id ID) String() string {
	return id.x.String()
}
