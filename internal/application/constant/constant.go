package constant

// Shared slog attribute keys.
const (
	Error        = "error"
	ConnectionID = "connection_id"
	UserID       = "user_id"
	RoomCode     = "room_code"
	EventType    = "event_type"
)
