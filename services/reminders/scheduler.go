package reminders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gammazero/workerpool"
	"github.com/rs/zerolog/log"

	"athena/clients"
	"athena/core"
	"athena/models"
	"athena/services"
	"athena/services/scopelock"
	"athena/services/state"
)

const deliveryTimeout = 30 * time.Second

// ErrorAlerter records delivery failures
type ErrorAlerter interface {
	AlertOnError(err error, context string)
}

// Scheduler delivers stored reminders by DM when they fall due. Delivered
// reminders are removed from the state store under the owner's user scope lock.
type Scheduler struct {
	stateService services.StateService
	locks        *scopelock.Manager
	messenger    clients.DirectMessenger
	alerter      ErrorAlerter
	workerPool   *workerpool.WorkerPool
	now          func() time.Time

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

func NewScheduler(
	stateService services.StateService,
	locks *scopelock.Manager,
	messenger clients.DirectMessenger,
	alerter ErrorAlerter,
	workers int,
) *Scheduler {
	return &Scheduler{
		stateService: stateService,
		locks:        locks,
		messenger:    messenger,
		alerter:      alerter,
		workerPool:   workerpool.New(workers),
		now:          time.Now,
		timers:       make(map[string]*time.Timer),
	}
}

// Start schedules every reminder in the store. Overdue reminders are
// delivered right away.
func (s *Scheduler) Start(ctx context.Context) error {
	log.Info().Msg("📋 Starting to load pending reminders")

	records, err := s.stateService.ListByKeyPrefix(ctx, models.RecordKeyReminderPrefix)
	if err != nil {
		return fmt.Errorf("failed to list reminders: %w", err)
	}

	pending := 0
	for _, record := range records {
		var payload models.ReminderPayload
		if err := json.Unmarshal(record.Payload, &payload); err != nil {
			log.Error().Err(err).Str("key", record.Key).Msg("❌ Skipping malformed reminder record")
			continue
		}
		if record.ScopeKind != models.ScopeKeyUser || record.ScopeID != payload.UserID {
			log.Warn().Str("key", record.Key).Str("scope_id", record.ScopeID).
				Msg("⚠️ Skipping reminder stored outside its owner's scope")
			continue
		}

		s.Schedule(&models.Reminder{Key: record.Key, ReminderPayload: payload})
		pending++
	}

	log.Info().Int("pending", pending).Int("total", len(records)).
		Msg("📋 Completed successfully - scheduled pending reminders")
	return nil
}

// Schedule arranges delivery of reminder at its due time. Scheduling the same
// reminder twice is a no-op.
func (s *Scheduler) Schedule(reminder *models.Reminder) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		log.Warn().Str("key", reminder.Key).Msg("⚠️ Scheduler stopped, reminder will be picked up at next startup")
		return
	}
	if _, exists := s.timers[reminder.Key]; exists {
		return
	}

	delay := reminder.DueAt.Sub(s.now())
	if delay <= 0 {
		s.timers[reminder.Key] = nil
		s.workerPool.Submit(func() { s.deliver(reminder) })
		log.Debug().Str("key", reminder.Key).Dur("overdue_by", -delay).Msg("⏰ Overdue reminder queued for delivery")
		return
	}
	s.timers[reminder.Key] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stopped {
			return
		}
		s.workerPool.Submit(func() { s.deliver(reminder) })
	})

	log.Debug().Str("key", reminder.Key).Dur("delay", delay).Msg("⏰ Reminder scheduled")
}

// Stop cancels pending timers and waits for deliveries already underway
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for _, timer := range s.timers {
		if timer != nil {
			timer.Stop()
		}
	}
	s.mu.Unlock()

	s.workerPool.StopWait()
	log.Info().Msg("✅ Reminder scheduler stopped")
}

func (s *Scheduler) deliver(reminder *models.Reminder) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()
	defer s.forget(reminder.Key)

	if err := s.send(ctx, reminder); err != nil {
		s.alerter.AlertOnError(err, "reminder delivery "+reminder.Key)
		return
	}
	if err := s.remove(ctx, reminder); err != nil {
		s.alerter.AlertOnError(err, "reminder bookkeeping "+reminder.Key)
	}
}

func (s *Scheduler) forget(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.timers, key)
}

func (s *Scheduler) send(ctx context.Context, reminder *models.Reminder) error {
	lateBy := s.now().Sub(reminder.DueAt)
	message := &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{
			{
				Title:       "Reminder",
				Description: reminder.Message,
				Fields: []*discordgo.MessageEmbedField{
					{Name: "Scheduled For", Value: fmt.Sprintf("<t:%d>", reminder.DueAt.Unix())},
					{Name: "Delivery Accuracy", Value: fmt.Sprintf("%d seconds late", int64(lateBy.Seconds()))},
				},
			},
		},
	}

	if _, err := s.messenger.SendDirectMessage(ctx, reminder.UserID, message); err != nil {
		return fmt.Errorf("failed to send reminder %s to user %s: %w", reminder.Key, reminder.UserID, err)
	}
	log.Info().Str("key", reminder.Key).Str("user_id", reminder.UserID).Dur("late_by", lateBy).
		Msg("✅ Reminder delivered")
	return nil
}

func (s *Scheduler) remove(ctx context.Context, reminder *models.Reminder) error {
	scope := models.UserScope(reminder.UserID)
	guard, err := s.locks.Acquire(ctx, []models.ScopeKey{scope})
	if err != nil {
		return fmt.Errorf("failed to lock user scope for reminder %s: %w", reminder.Key, err)
	}
	defer guard.Release()

	store := state.NewScopedStore(s.stateService, "deliver:"+reminder.Key, guard.Scopes())
	err = store.Delete(ctx, scope, reminder.Key)
	if errors.Is(err, core.ErrDuplicateInteraction) || errors.Is(err, core.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to remove delivered reminder %s: %w", reminder.Key, err)
	}
	return nil
}
