package clients

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/mo"

	"athena/models"
)

// InteractionResponder sends command responses back to the invoking user
type InteractionResponder interface {
	Reply(ctx context.Context, event *models.InteractionEvent, resp *models.Response) error
	Defer(ctx context.Context, event *models.InteractionEvent, ephemeral bool) error
	EditReply(ctx context.Context, event *models.InteractionEvent, resp *models.Response) error
}

// DirectMessenger delivers messages to a user's DM channel
type DirectMessenger interface {
	SendDirectMessage(ctx context.Context, userID string, message *discordgo.MessageSend) (*discordgo.Message, error)
}

// CommandRegistrar publishes the bot's application commands
type CommandRegistrar interface {
	RegisterCommands(
		ctx context.Context,
		applicationID string,
		commands []*discordgo.ApplicationCommand,
	) ([]*discordgo.ApplicationCommand, error)
}

// DiscordClient is the full rate-limited Discord REST surface used by the bot
type DiscordClient interface {
	InteractionResponder
	DirectMessenger
	CommandRegistrar
}

// QuakeClient looks up recent earthquakes
type QuakeClient interface {
	LatestQuake(ctx context.Context, minimumMMI int) (mo.Option[*models.Quake], error)
}
