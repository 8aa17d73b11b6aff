package commands

import (
	"context"
	"fmt"

	"athena/core"
	"athena/models"
	"athena/services"
	"athena/services/state"
)

// Tally increments the guild's shared counter
func (c *CommandsUseCase) Tally(
	ctx context.Context,
	event *models.InteractionEvent,
	store services.ScopedStore,
) (*models.Response, error) {
	now := c.now()
	tally, err := state.UpdateJSON(ctx, store, models.GuildScope(*event.GuildID), models.RecordKeyTally,
		func(tally *models.TallyPayload) error {
			tally.Count++
			tally.UpdatedBy = event.InvokerID
			tally.UpdatedAt = now
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to increment tally: %w", err)
	}

	return models.TextResponse(fmt.Sprintf("Tally is now **%d**", tally.Count)), nil
}

// TallyReset deletes the guild's counter
func (c *CommandsUseCase) TallyReset(
	ctx context.Context,
	event *models.InteractionEvent,
	store services.ScopedStore,
) (*models.Response, error) {
	err := store.Delete(ctx, models.GuildScope(*event.GuildID), models.RecordKeyTally)
	if core.IsNotFoundError(err) {
		return nil, core.NewUserError("There is no tally to reset")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reset tally: %w", err)
	}

	return models.TextResponse(fmt.Sprintf("Tally reset by <@%s>", event.InvokerID)), nil
}
