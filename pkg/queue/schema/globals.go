package schema

import (
	"encoding/json"
)

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	// SchemaName prefixes statement keys, span names and the provisioning lock
	SchemaName = "pgqmini"

	// ChannelName is the notification channel shared by the insert and
	// update triggers of every queue
	ChannelName = "new_message"

	// StatusTypeName is the enum type for the status column
	StatusTypeName = "message_status"

	// MaxQueueNameLength keeps derived identifiers such as
	// idx_<queue>_updated_at within the 63 byte identifier limit
	MaxQueueNameLength = 48

	// DefaultQueue is used when no queue name is configured
	DefaultQueue = "queue"
)

////////////////////////////////////////////////////////////////////////////////
// STRINGIFY

func stringify[T any](v T) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err.Error()
	}
	return string(data)
}
