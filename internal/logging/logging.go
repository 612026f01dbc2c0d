// Package logging wraps sirupsen/logrus with the field set every
// bearer/mini-protocol logger in this module tags its entries with:
// protocol, role, and the bearer's remote address.
package logging

import (
	"net"

	"github.com/sirupsen/logrus"

	"ouroboros/internal/protocol"
)

// New builds a root logger at the given level ("debug", "info", "warn",
// "error"; unknown or empty defaults to info) with text output, matching
// the teacher pack's default logrus configuration.
func New(level string) *logrus.Logger {
	l := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

// ForBearer returns an entry tagged with the bearer's remote address,
// the root logger for a Peer's lifecycle events (§4.P).
func ForBearer(l *logrus.Logger, remote net.Addr) *logrus.Entry {
	entry := logrus.NewEntry(l)
	if remote != nil {
		entry = entry.WithField("remote_addr", remote.String())
	}
	return entry
}

// ForProtocol further tags an entry with the mini-protocol number and
// role, for use inside a single mini-protocol's client/server pair.
func ForProtocol(entry *logrus.Entry, num protocol.Num, role protocol.Role) *logrus.Entry {
	return entry.WithField("protocol", num).WithField("role", role)
}
