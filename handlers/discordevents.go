package handlers

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"athena/clients"
	"athena/middleware"
	"athena/models"
)

const registerTimeout = 30 * time.Second

// EventSink receives mapped interactions. It must return without blocking.
type EventSink interface {
	OnEvent(event *models.InteractionEvent)
}

// DiscordEventsHandler adapts the discordgo gateway session to the dispatcher
type DiscordEventsHandler struct {
	discordSDKClient *discordgo.Session
	registrar        clients.CommandRegistrar
	sink             EventSink
	commands         []*discordgo.ApplicationCommand
	alerts           *middleware.ErrorAlertMiddleware
	registered       atomic.Bool
	now              func() time.Time
}

func NewDiscordEventsHandler(
	botToken string,
	registrar clients.CommandRegistrar,
	sink EventSink,
	commands []*discordgo.ApplicationCommand,
	alerts *middleware.ErrorAlertMiddleware,
) (*DiscordEventsHandler, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	handler := &DiscordEventsHandler{
		discordSDKClient: session,
		registrar:        registrar,
		sink:             sink,
		commands:         commands,
		alerts:           alerts,
		now:              time.Now,
	}

	session.AddHandler(handler.handleReadyEvent)
	session.AddHandler(handler.handleInteractionCreatedEvent)

	// Slash commands arrive without privileged intents
	session.Identify.Intents = discordgo.IntentsGuilds

	return handler, nil
}

// StartBot opens the gateway connection and starts listening for interactions
func (h *DiscordEventsHandler) StartBot() error {
	if err := h.discordSDKClient.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}

	log.Info().Msg("🤖 Discord bot is now running and listening for interactions")
	return nil
}

// StopBot closes the gateway connection. No new events are delivered afterwards.
func (h *DiscordEventsHandler) StopBot() error {
	if err := h.discordSDKClient.Close(); err != nil {
		return fmt.Errorf("failed to close Discord session: %w", err)
	}
	log.Info().Msg("🤖 Discord gateway closed")
	return nil
}

// handleReadyEvent publishes the application commands once per process
func (h *DiscordEventsHandler) handleReadyEvent(_ *discordgo.Session, r *discordgo.Ready) {
	defer h.alerts.RecoverAndAlert("discord ready handler")

	log.Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("🤖 Discord session ready")
	if !h.registered.CompareAndSwap(false, true) {
		return
	}

	applicationID := r.User.ID
	task := h.alerts.WrapBackgroundTask("register application commands", func() error {
		return h.registerCommands(applicationID)
	})
	go func() {
		if err := task(); err != nil {
			h.registered.Store(false)
		}
	}()
}

func (h *DiscordEventsHandler) registerCommands(applicationID string) error {
	log.Info().Str("application_id", applicationID).Int("commands", len(h.commands)).
		Msg("📋 Starting to register application commands")

	ctx, cancel := context.WithTimeout(context.Background(), registerTimeout)
	defer cancel()

	registered, err := h.registrar.RegisterCommands(ctx, applicationID, h.commands)
	if err != nil {
		return fmt.Errorf("failed to register application commands: %w", err)
	}

	log.Info().Int("commands", len(registered)).Msg("📋 Completed successfully - registered application commands")
	return nil
}

// handleInteractionCreatedEvent hands slash commands to the dispatcher
func (h *DiscordEventsHandler) handleInteractionCreatedEvent(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	defer h.alerts.RecoverAndAlert("discord interaction handler")

	if i.Type != discordgo.InteractionApplicationCommand {
		log.Debug().Str("interaction_id", i.ID).Int("type", int(i.Type)).Msg("🔍 Ignoring non-command interaction")
		return
	}

	event, err := h.mapToInteractionEvent(i.Interaction)
	if err != nil {
		log.Error().Err(err).Str("interaction_id", i.ID).Msg("❌ Failed to map Discord interaction")
		return
	}

	log.Debug().Stringer("event", event).Msg("📨 Interaction received")
	h.sink.OnEvent(event)
}

func (h *DiscordEventsHandler) mapToInteractionEvent(i *discordgo.Interaction) (*models.InteractionEvent, error) {
	data := i.ApplicationCommandData()

	event := &models.InteractionEvent{
		ID:            i.ID,
		ApplicationID: i.AppID,
		Token:         i.Token,
		ChannelID:     i.ChannelID,
		ReceivedAt:    h.now(),
	}

	switch {
	case i.Member != nil && i.Member.User != nil:
		event.InvokerID = i.Member.User.ID
		event.MemberPermissions = i.Member.Permissions
	case i.User != nil:
		event.InvokerID = i.User.ID
	default:
		return nil, fmt.Errorf("interaction %s has no invoking user", i.ID)
	}
	if i.GuildID != "" {
		guildID := i.GuildID
		event.GuildID = &guildID
	}

	createdAt, err := discordgo.SnowflakeTimestamp(i.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid interaction id %q: %w", i.ID, err)
	}
	event.CreatedAt = createdAt

	path := []string{data.Name}
	event.Arguments = flattenOptions(data.Options, &path)
	event.CommandName = strings.Join(path, " ")

	return event, nil
}

// flattenOptions descends through subcommand groups, appending their names to
// path, and returns the leaf arguments in delivery order.
func flattenOptions(options []*discordgo.ApplicationCommandInteractionDataOption, path *[]string) []models.Argument {
	var args []models.Argument
	for _, option := range options {
		switch option.Type {
		case discordgo.ApplicationCommandOptionSubCommand, discordgo.ApplicationCommandOptionSubCommandGroup:
			*path = append(*path, option.Name)
			args = append(args, flattenOptions(option.Options, path)...)
		default:
			args = append(args, models.Argument{
				Name:  option.Name,
				Type:  argumentType(option.Type),
				Value: option.Value,
			})
		}
	}
	return args
}

func argumentType(optionType discordgo.ApplicationCommandOptionType) models.ArgumentType {
	switch optionType {
	case discordgo.ApplicationCommandOptionInteger:
		return models.ArgumentTypeInteger
	case discordgo.ApplicationCommandOptionNumber:
		return models.ArgumentTypeNumber
	case discordgo.ApplicationCommandOptionBoolean:
		return models.ArgumentTypeBoolean
	default:
		return models.ArgumentTypeString
	}
}
