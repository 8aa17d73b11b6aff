package models

import (
	"fmt"
	"math"
	"time"
)

// InteractionEvent is a single slash-command invocation received from the gateway.
// It is consumed exactly once by the dispatcher.
type InteractionEvent struct {
	ID            string
	ApplicationID string
	// Token authorizes the interaction callback and follow-up edits
	Token       string
	CommandName string
	InvokerID   string
	// GuildID for guild invocations (nil for direct messages)
	GuildID   *string
	ChannelID string
	// MemberPermissions are the invoker's computed permissions in the channel (0 in DMs)
	MemberPermissions int64
	Arguments         []Argument
	// CreatedAt is derived from the interaction snowflake
	CreatedAt  time.Time
	ReceivedAt time.Time
}

type ArgumentType string

const (
	ArgumentTypeString  ArgumentType = "string"
	ArgumentTypeInteger ArgumentType = "integer"
	ArgumentTypeNumber  ArgumentType = "number"
	ArgumentTypeBoolean ArgumentType = "boolean"
)

// Argument is one typed command option, in the order the platform delivered it.
type Argument struct {
	Name  string
	Type  ArgumentType
	Value any
}

// InGuild reports whether the interaction was issued inside a guild
func (e *InteractionEvent) InGuild() bool {
	return e.GuildID != nil && *e.GuildID != ""
}

func (e *InteractionEvent) Argument(name string) (Argument, bool) {
	for _, arg := range e.Arguments {
		if arg.Name == name {
			return arg, true
		}
	}
	return Argument{}, false
}

func (e *InteractionEvent) StringArg(name string) (string, bool) {
	arg, ok := e.Argument(name)
	if !ok {
		return "", false
	}
	value, ok := arg.Value.(string)
	return value, ok
}

// IntArg returns an integer option. The gateway decodes JSON numbers as float64,
// so both representations are accepted.
func (e *InteractionEvent) IntArg(name string) (int64, bool) {
	arg, ok := e.Argument(name)
	if !ok {
		return 0, false
	}
	switch value := arg.Value.(type) {
	case int64:
		return value, true
	case int:
		return int64(value), true
	case float64:
		if value != math.Trunc(value) {
			return 0, false
		}
		return int64(value), true
	default:
		return 0, false
	}
}

func (e *InteractionEvent) String() string {
	guild := "dm"
	if e.InGuild() {
		guild = *e.GuildID
	}
	return fmt.Sprintf("%s(%s) by %s in %s", e.CommandName, e.ID, e.InvokerID, guild)
}
