package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/mock"

	"athena/models"
)

// MockDiscordClient implements the clients.DiscordClient interface for testing
type MockDiscordClient struct {
	mock.Mock
}

func (m *MockDiscordClient) Reply(ctx context.Context, event *models.InteractionEvent, resp *models.Response) error {
	args := m.Called(ctx, event, resp)
	return args.Error(0)
}

func (m *MockDiscordClient) Defer(ctx context.Context, event *models.InteractionEvent, ephemeral bool) error {
	args := m.Called(ctx, event, ephemeral)
	return args.Error(0)
}

func (m *MockDiscordClient) EditReply(ctx context.Context, event *models.InteractionEvent, resp *models.Response) error {
	args := m.Called(ctx, event, resp)
	return args.Error(0)
}

func (m *MockDiscordClient) SendDirectMessage(
	ctx context.Context,
	userID string,
	message *discordgo.MessageSend,
) (*discordgo.Message, error) {
	args := m.Called(ctx, userID, message)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*discordgo.Message), args.Error(1)
}

func (m *MockDiscordClient) RegisterCommands(
	ctx context.Context,
	applicationID string,
	commands []*discordgo.ApplicationCommand,
) ([]*discordgo.ApplicationCommand, error) {
	args := m.Called(ctx, applicationID, commands)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*discordgo.ApplicationCommand), args.Error(1)
}
