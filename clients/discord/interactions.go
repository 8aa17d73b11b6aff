package discord

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"athena/models"
)

// Interaction buckets are keyed by interaction ID, never by token
func interactionCallbackRoute(interactionID, token string) Route {
	return Route{
		Method:      http.MethodPost,
		Path:        fmt.Sprintf("/interactions/%s/%s/callback", interactionID, token),
		Bucket:      "POST /interactions/" + interactionID + "/callback",
		Interaction: true,
	}
}

func editOriginalRoute(applicationID, interactionID, token string) Route {
	return Route{
		Method:      http.MethodPatch,
		Path:        fmt.Sprintf("/webhooks/%s/%s/messages/@original", applicationID, token),
		Bucket:      "PATCH /webhooks/" + applicationID + "/" + interactionID + "/messages/@original",
		Interaction: true,
	}
}

func createDMRoute() Route {
	return Route{
		Method: http.MethodPost,
		Path:   "/users/@me/channels",
		Bucket: "POST /users/@me/channels",
	}
}

func channelMessageRoute(channelID string) Route {
	return Route{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("/channels/%s/messages", channelID),
		Bucket: "POST /channels/" + channelID + "/messages",
	}
}

func globalCommandsRoute(applicationID string) Route {
	return Route{
		Method: http.MethodPut,
		Path:   fmt.Sprintf("/applications/%s/commands", applicationID),
		Bucket: "PUT /applications/" + applicationID + "/commands",
	}
}

func responseFlags(resp *models.Response) discordgo.MessageFlags {
	if resp.Ephemeral {
		return discordgo.MessageFlagsEphemeral
	}
	return 0
}

// Reply answers an interaction with a message
func (c *Client) Reply(ctx context.Context, event *models.InteractionEvent, resp *models.Response) error {
	_, err := c.Send(ctx, interactionCallbackRoute(event.ID, event.Token), &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: resp.Content,
			Embeds:  resp.Embeds,
			Flags:   responseFlags(resp),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to reply to interaction %s: %w", event.ID, err)
	}
	return nil
}

// Defer acknowledges an interaction so the reply can be sent later with EditReply
func (c *Client) Defer(ctx context.Context, event *models.InteractionEvent, ephemeral bool) error {
	data := &discordgo.InteractionResponseData{}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}

	_, err := c.Send(ctx, interactionCallbackRoute(event.ID, event.Token), &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("failed to defer interaction %s: %w", event.ID, err)
	}
	return nil
}

// EditReply replaces the original response of a deferred interaction
func (c *Client) EditReply(ctx context.Context, event *models.InteractionEvent, resp *models.Response) error {
	content := resp.Content
	embeds := resp.Embeds
	if embeds == nil {
		embeds = []*discordgo.MessageEmbed{}
	}

	_, err := c.Send(ctx, editOriginalRoute(event.ApplicationID, event.ID, event.Token), &discordgo.WebhookEdit{
		Content: &content,
		Embeds:  &embeds,
	})
	if err != nil {
		return fmt.Errorf("failed to edit response of interaction %s: %w", event.ID, err)
	}
	return nil
}

// SendDirectMessage opens a DM channel with the user and posts the message there
func (c *Client) SendDirectMessage(ctx context.Context, userID string, message *discordgo.MessageSend) (*discordgo.Message, error) {
	resp, err := c.Send(ctx, createDMRoute(), map[string]string{"recipient_id": userID})
	if err != nil {
		return nil, fmt.Errorf("failed to open DM channel with %s: %w", userID, err)
	}

	var channel discordgo.Channel
	if err := decode(resp, &channel); err != nil {
		return nil, err
	}

	resp, err = c.Send(ctx, channelMessageRoute(channel.ID), message)
	if err != nil {
		return nil, fmt.Errorf("failed to send DM to %s: %w", userID, err)
	}

	var sent discordgo.Message
	if err := decode(resp, &sent); err != nil {
		return nil, err
	}
	return &sent, nil
}

// RegisterCommands replaces the application's global commands with commands
func (c *Client) RegisterCommands(
	ctx context.Context,
	applicationID string,
	commands []*discordgo.ApplicationCommand,
) ([]*discordgo.ApplicationCommand, error) {
	log.Info().Int("count", len(commands)).Msg("📋 Starting to register global application commands")

	resp, err := c.Send(ctx, globalCommandsRoute(applicationID), commands)
	if err != nil {
		return nil, fmt.Errorf("failed to register application commands: %w", err)
	}

	var registered []*discordgo.ApplicationCommand
	if err := decode(resp, &registered); err != nil {
		return nil, err
	}

	log.Info().Int("count", len(registered)).Msg("✅ Registered global application commands")
	return registered, nil
}
