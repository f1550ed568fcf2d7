package schema

import (
	"strings"

	// Packages
	pg "github.com/mutablelogic/go-pgqmini"
	types "github.com/mutablelogic/go-pgqmini/pkg/types"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// QueueName is the name of a queue, which is also the name of its table
type QueueName string

// QueueStatsRequest selects message counts by status
type QueueStatsRequest struct{}

// QueueStats are the message counts by status for a queue
type QueueStats struct {
	Queue  string            `json:"queue"`
	Counts map[Status]uint64 `json:"counts"`
}

////////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func (s QueueStats) String() string {
	return stringify(s)
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Normalize returns the trimmed, lower-cased queue name, or ErrBadParameter
// if it is not a valid queue name
func (q QueueName) Normalize() (string, error) {
	name := strings.ToLower(strings.TrimSpace(string(q)))
	switch {
	case name == "":
		return "", pg.ErrBadParameter.With("missing queue name")
	case len(name) > MaxQueueNameLength:
		return "", pg.ErrBadParameter.Withf("queue name %q exceeds %d characters", name, MaxQueueNameLength)
	case !types.IsIdentifier(name):
		return "", pg.ErrBadParameter.Withf("invalid queue name: %q", name)
	}
	return name, nil
}

// Bind returns the bind vars for the queue: the table, index and trigger
// names derived from the queue name, the notification channel and the
// advisory lock name
func (q QueueName) Bind() ([]any, error) {
	name, err := q.Normalize()
	if err != nil {
		return nil, err
	}
	return []any{
		"queue", name,
		"table", name,
		"status_index", "idx_" + name + "_status",
		"updated_at_index", "idx_" + name + "_updated_at",
		"update_trigger", "update_" + name + "_updated_at",
		"insert_trigger", name + "_trigger",
		"channel", ChannelName,
		"lock", SchemaName,
	}, nil
}

////////////////////////////////////////////////////////////////////////////////
// READER

// Scan one status count into the stats
func (s *QueueStats) Scan(row pg.Row) error {
	var status string
	var count uint64
	if err := row.Scan(&status, &count); err != nil {
		return err
	}
	v, err := ParseStatus(status)
	if err != nil {
		return err
	}
	if s.Counts == nil {
		s.Counts = make(map[Status]uint64, len(Statuses))
	}
	s.Counts[v] = count
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// SELECTOR

func (QueueStatsRequest) Select(bind *pg.Bind, op pg.Op) (string, error) {
	switch op {
	case pg.List:
		return bind.Replace("${pgqmini.stats}"), nil
	default:
		return "", pg.ErrNotImplemented.Withf("unsupported QueueStatsRequest operation %q", op)
	}
}
