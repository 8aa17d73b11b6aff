package commands

import (
	"time"

	"athena/clients"
	"athena/dice"
	"athena/models"
	"athena/services"
	"athena/usecases/dispatch"
)

// Command names as registered with Discord. Subcommands are addressed as "<parent> <sub>".
const (
	CommandRoll       = "roll"
	CommandRolls      = "rolls"
	CommandQuake      = "quake"
	CommandRemindMe   = "remindme"
	CommandRemindIn   = "remindme in"
	CommandTally      = "tally"
	CommandTallyReset = "tally-reset"
)

// CommandsUseCase implements the bot's slash commands
type CommandsUseCase struct {
	quakeClient clients.QuakeClient
	scheduler   services.ReminderScheduler
	roller      dice.Roller
	now         func() time.Time
}

func NewCommandsUseCase(
	quakeClient clients.QuakeClient,
	scheduler services.ReminderScheduler,
	roller dice.Roller,
) *CommandsUseCase {
	return &CommandsUseCase{
		quakeClient: quakeClient,
		scheduler:   scheduler,
		roller:      roller,
		now:         time.Now,
	}
}

// Descriptors lists every command handler with its dispatch requirements
func (c *CommandsUseCase) Descriptors() []*dispatch.HandlerDescriptor {
	return []*dispatch.HandlerDescriptor{
		{
			CommandName: CommandRoll,
			Scope:       models.ScopeGuildUser,
			Handler:     c.Roll,
		},
		{
			CommandName: CommandRolls,
			Scope:       models.ScopeGuildUser,
			Idempotent:  true,
			Handler:     c.Rolls,
		},
		{
			CommandName: CommandQuake,
			Scope:       models.ScopeNone,
			Idempotent:  true,
			Defer:       true,
			Handler:     c.Quake,
		},
		{
			CommandName: CommandRemindIn,
			Scope:       models.ScopeUser,
			Defer:       true,
			Ephemeral:   true,
			Handler:     c.RemindIn,
		},
		{
			CommandName: CommandTally,
			Scope:       models.ScopeGuild,
			Handler:     c.Tally,
		},
		{
			CommandName: CommandTallyReset,
			Scope:       models.ScopeGuild,
			Permissions: manageGuild,
			Handler:     c.TallyReset,
		},
	}
}

// eventTime is when the interaction was created, falling back to receipt time
func (c *CommandsUseCase) eventTime(event *models.InteractionEvent) time.Time {
	if !event.CreatedAt.IsZero() {
		return event.CreatedAt
	}
	if !event.ReceivedAt.IsZero() {
		return event.ReceivedAt
	}
	return c.now()
}
