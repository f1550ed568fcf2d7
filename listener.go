package pg

import (
	// Packages
	pgconn "github.com/jackc/pgx/v5/pgconn"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Notification is a message received on a channel the session listens on.
type Notification struct {
	Channel string
	Payload []byte
	PID     uint32
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func newNotification(n *pgconn.Notification) *Notification {
	if n == nil {
		return nil
	}
	return &Notification{
		Channel: n.Channel,
		Payload: []byte(n.Payload),
		PID:     n.PID,
	}
}

////////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func (n Notification) String() string {
	return n.Channel + ": " + string(n.Payload)
}
