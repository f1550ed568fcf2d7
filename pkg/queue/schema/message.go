package schema

import (
	"encoding/json"
	"time"

	// Packages
	pg "github.com/mutablelogic/go-pgqmini"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// MessageId selects a message by id
type MessageId uint64

// MessageMeta is the content of a new message. The payload is opaque to the
// queue; the store checks it is a JSON document.
type MessageMeta struct {
	Payload json.RawMessage `json:"payload"`
}

// Message is one row of a queue table
type Message struct {
	Id        uint64          `json:"id"`
	Payload   json.RawMessage `json:"payload"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// MessageClaim selects and locks the next pending message
type MessageClaim struct{}

// MessageComplete selects a processing message to complete. When ClaimedAt
// is set, the message must not have been updated since it was claimed.
type MessageComplete struct {
	Id        uint64     `json:"id"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
}

// MessageRequeue selects processing messages which have not been updated
// for a duration, to return them to pending
type MessageRequeue struct {
	OlderThan time.Duration `json:"older_than"`
}

// MessagePurge selects completed messages which have not been updated for
// a duration, to delete them
type MessagePurge struct {
	OlderThan time.Duration `json:"older_than"`
}

// MessageIdList collects message ids returned by a statement
type MessageIdList struct {
	Body []uint64 `json:"body,omitempty"`
}

////////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func (m Message) String() string {
	return stringify(m)
}

func (m MessageIdList) String() string {
	return stringify(m)
}

////////////////////////////////////////////////////////////////////////////////
// READER

func (m *Message) Scan(row pg.Row) error {
	var payload []byte
	var status string
	if err := row.Scan(&m.Id, &payload, &status, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return err
	}
	if v, err := ParseStatus(status); err != nil {
		return err
	} else {
		m.Status = v
	}
	m.Payload = json.RawMessage(payload)
	return nil
}

func (l *MessageIdList) Scan(row pg.Row) error {
	var id uint64
	if err := row.Scan(&id); err != nil {
		return err
	}
	l.Body = append(l.Body, id)
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// WRITER

func (m MessageMeta) Insert(bind *pg.Bind) (string, error) {
	if len(m.Payload) == 0 {
		return "", pg.ErrBadParameter.With("missing payload")
	}
	bind.Set("payload", string(m.Payload))
	return bind.Replace("${pgqmini.insert}"), nil
}

func (m MessageMeta) Update(*pg.Bind) error {
	return pg.ErrNotImplemented.With("messages are immutable")
}

////////////////////////////////////////////////////////////////////////////////
// SELECTOR

func (id MessageId) Select(bind *pg.Bind, op pg.Op) (string, error) {
	if id == 0 {
		return "", pg.ErrBadParameter.With("missing message id")
	}
	bind.Set("id", uint64(id))

	switch op {
	case pg.Get:
		return bind.Replace("${pgqmini.get}"), nil
	default:
		return "", pg.ErrNotImplemented.Withf("unsupported MessageId operation %q", op)
	}
}

func (MessageClaim) Select(bind *pg.Bind, op pg.Op) (string, error) {
	switch op {
	case pg.Update:
		return bind.Replace("${pgqmini.claim}"), nil
	default:
		return "", pg.ErrNotImplemented.Withf("unsupported MessageClaim operation %q", op)
	}
}

func (m MessageComplete) Select(bind *pg.Bind, op pg.Op) (string, error) {
	if m.Id == 0 {
		return "", pg.ErrBadParameter.With("missing message id")
	}
	bind.Set("id", m.Id)

	switch op {
	case pg.Get:
		return bind.Replace("${pgqmini.lock_message}"), nil
	case pg.Update:
		return bind.Replace("${pgqmini.complete}"), nil
	default:
		return "", pg.ErrNotImplemented.Withf("unsupported MessageComplete operation %q", op)
	}
}

func (m MessageRequeue) Select(bind *pg.Bind, op pg.Op) (string, error) {
	if m.OlderThan < 0 {
		return "", pg.ErrBadParameter.With("negative duration")
	}
	bind.Set("older_than", m.OlderThan.Seconds())

	switch op {
	case pg.Update:
		return bind.Replace("${pgqmini.requeue}"), nil
	default:
		return "", pg.ErrNotImplemented.Withf("unsupported MessageRequeue operation %q", op)
	}
}

func (m MessagePurge) Select(bind *pg.Bind, op pg.Op) (string, error) {
	if m.OlderThan < 0 {
		return "", pg.ErrBadParameter.With("negative duration")
	}
	bind.Set("older_than", m.OlderThan.Seconds())

	switch op {
	case pg.Delete:
		return bind.Replace("${pgqmini.purge}"), nil
	default:
		return "", pg.ErrNotImplemented.Withf("unsupported MessagePurge operation %q", op)
	}
}
