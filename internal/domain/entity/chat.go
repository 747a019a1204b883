package entity

// ChatKind distinguishes the Telegram-shaped chat types the command surface
// cares about; authorization never depends on it.
type ChatKind string

const (
	ChatKindPrivate    ChatKind = "private"
	ChatKindGroup      ChatKind = "group"
	ChatKindSupergroup ChatKind = "supergroup"
)

// ChatContext identifies the sender and destination of an inbound command.
type ChatContext struct {
	UserID   int64
	Username string
	ChatID   int64
	ChatKind ChatKind
}
