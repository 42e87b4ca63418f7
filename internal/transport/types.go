package transport

import "context"

// Message is one inbound chat message.
type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

// ChatTarget identifies where to deliver an outbound message.
type ChatTarget struct {
	ChatID int64
}

type SendOptions struct {
	ParseMode      string // "Markdown", "HTML" or empty
	DisablePreview bool
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// Adapter is the chat transport the bot core talks to. The core never
// imports a Telegram library directly; tests substitute a fake.
type Adapter interface {
	Start(ctx context.Context, out chan<- Message) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
