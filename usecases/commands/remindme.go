package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"athena/core"
	"athena/models"
	"athena/services"
	"athena/services/state"
)

const (
	maxReminderDuration = 10000
	maxReminderMessage  = 1000
)

// timeUnit is either a clock unit (size) or a calendar unit counted in days
type timeUnit struct {
	name string
	size time.Duration
	days int
}

var timeUnits = []timeUnit{
	{name: "seconds", size: time.Second},
	{name: "minutes", size: time.Minute},
	{name: "hours", size: time.Hour},
	{name: "days", days: 1},
	{name: "weeks", days: 7},
	{name: "months", days: 28},
}

func parseUnit(name string) (timeUnit, bool) {
	for _, unit := range timeUnits {
		if unit.name == name {
			return unit, true
		}
	}
	return timeUnit{}, false
}

// after adds amount units to from. Calendar units go through AddDate so large
// amounts stay clear of the time.Duration range.
func (u timeUnit) after(from time.Time, amount int64) time.Time {
	if u.days > 0 {
		return from.AddDate(0, 0, int(amount)*u.days)
	}
	return from.Add(time.Duration(amount) * u.size)
}

// RemindIn stores a reminder for the invoker and schedules its delivery
func (c *CommandsUseCase) RemindIn(
	ctx context.Context,
	event *models.InteractionEvent,
	store services.ScopedStore,
) (*models.Response, error) {
	duration, ok := event.IntArg("duration")
	if !ok || duration < 1 || duration > maxReminderDuration {
		return nil, core.NewUserError("Duration must be between 1 and %d", maxReminderDuration)
	}
	unitName, _ := event.StringArg("unit")
	unit, ok := parseUnit(unitName)
	if !ok {
		return nil, core.NewUserError("Unknown time unit %q", unitName)
	}
	message, _ := event.StringArg("message")
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, core.NewUserError("Reminder message cannot be empty")
	}
	if len(message) > maxReminderMessage {
		return nil, core.NewUserError("Reminder message must be at most %d characters", maxReminderMessage)
	}

	createdAt := c.eventTime(event)
	payload := models.ReminderPayload{
		UserID:    event.InvokerID,
		Message:   message,
		DueAt:     unit.after(createdAt, duration),
		CreatedAt: createdAt,
	}
	key := models.RecordKeyReminderPrefix + event.ID

	_, err := state.UpdateJSON(ctx, store, models.UserScope(event.InvokerID), key,
		func(reminder *models.ReminderPayload) error {
			*reminder = payload
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to store reminder: %w", err)
	}

	c.scheduler.Schedule(&models.Reminder{Key: key, ReminderPayload: payload})
	log.Info().Str("user_id", event.InvokerID).Str("key", key).Time("due_at", payload.DueAt).
		Msg("⏰ Reminder created")

	return models.TextResponse(fmt.Sprintf("Reminder created for <t:%d>", payload.DueAt.Unix())), nil
}
