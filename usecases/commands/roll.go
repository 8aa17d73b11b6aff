package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"athena/core"
	"athena/dice"
	"athena/models"
	"athena/services"
	"athena/services/state"
)

const recentRollsShown = 10

// historyScope is where a user's roll log lives: per member in a guild, per user in DMs
func historyScope(event *models.InteractionEvent) models.ScopeKey {
	if event.InGuild() {
		return models.MemberScope(*event.GuildID, event.InvokerID)
	}
	return models.UserScope(event.InvokerID)
}

// Roll evaluates a dice expression and records it in the invoker's history
func (c *CommandsUseCase) Roll(
	ctx context.Context,
	event *models.InteractionEvent,
	store services.ScopedStore,
) (*models.Response, error) {
	expression, ok := event.StringArg("dice")
	if !ok || strings.TrimSpace(expression) == "" {
		return nil, core.NewUserError("Please provide a dice expression, e.g. 2d6 + 3")
	}

	result, err := dice.Roll(expression, c.roller)
	if err != nil {
		var diceErr *dice.Error
		if errors.As(err, &diceErr) {
			return nil, core.NewUserError("Invalid dice expression: %s", diceErr.Error())
		}
		return nil, fmt.Errorf("failed to evaluate dice expression: %w", err)
	}

	rolledAt := c.eventTime(event)
	entry := models.RollEntry{
		Expression: expression,
		Total:      result.Total,
		Breakdown:  result.Description,
		RolledAt:   rolledAt,
	}

	// History and profile commit together
	var profile models.ProfilePayload
	err = store.Atomically(ctx, func(ctx context.Context) error {
		_, err := state.UpdateJSON(ctx, store, historyScope(event), models.RecordKeyRollHistory,
			func(history *models.RollHistoryPayload) error {
				history.Append(entry)
				return nil
			})
		if err != nil {
			return fmt.Errorf("failed to record roll: %w", err)
		}

		profile, err = state.UpdateJSON(ctx, store, models.UserScope(event.InvokerID), models.RecordKeyProfile,
			func(profile *models.ProfilePayload) error {
				profile.RollCount++
				profile.LastRollAt = &rolledAt
				return nil
			})
		if err != nil {
			return fmt.Errorf("failed to update profile: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debug().Str("user_id", event.InvokerID).Int64("total", result.Total).Int64("roll_count", profile.RollCount).
		Msg("🎲 Dice rolled")
	return models.TextResponse(result.String()), nil
}

// Rolls shows the invoker's most recent rolls
func (c *CommandsUseCase) Rolls(
	ctx context.Context,
	event *models.InteractionEvent,
	store services.ScopedStore,
) (*models.Response, error) {
	maybeHistory, err := state.ReadJSON[models.RollHistoryPayload](ctx, store, historyScope(event), models.RecordKeyRollHistory)
	if err != nil {
		return nil, fmt.Errorf("failed to read roll history: %w", err)
	}
	history, ok := maybeHistory.Get()
	if !ok || len(history.Entries) == 0 {
		return models.TextResponse("You haven't rolled any dice yet."), nil
	}

	maybeProfile, err := state.ReadJSON[models.ProfilePayload](ctx, store, models.UserScope(event.InvokerID), models.RecordKeyProfile)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	profile := maybeProfile.OrElse(models.ProfilePayload{})

	entries := history.Entries
	if len(entries) > recentRollsShown {
		entries = entries[len(entries)-recentRollsShown:]
	}

	var lines []string
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		lines = append(lines, fmt.Sprintf("<t:%d:R> `%s` → %d = %s",
			entry.RolledAt.Unix(), entry.Expression, entry.Total, entry.Breakdown))
	}

	return models.EmbedResponse(&discordgo.MessageEmbed{
		Title:       "Recent rolls",
		Description: strings.Join(lines, "\n"),
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("%d rolls in total", profile.RollCount),
		},
	}), nil
}
