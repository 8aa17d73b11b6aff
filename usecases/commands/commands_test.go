package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"athena/clients/geonet"
	"athena/core"
	"athena/models"
	"athena/services/state"
	"athena/testutils"
	"athena/usecases/dispatch"
)

type fixedRoller struct {
	faces []int
	next  int
}

func (f *fixedRoller) Roll(sides int) int {
	face := f.faces[f.next%len(f.faces)]
	f.next++
	return min(face, sides)
}

type recordingScheduler struct {
	mu        sync.Mutex
	scheduled []*models.Reminder
}

func (r *recordingScheduler) Schedule(reminder *models.Reminder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scheduled = append(r.scheduled, reminder)
}

type commandsFixture struct {
	useCase   *CommandsUseCase
	quakes    *geonet.MockGeoNetClient
	scheduler *recordingScheduler
	state     *state.StateService
	memDB     *testutils.MemoryDatabase
	now       time.Time
}

func newFixture(faces ...int) *commandsFixture {
	if len(faces) == 0 {
		faces = []int{1}
	}
	memDB := testutils.NewMemoryDatabase()
	f := &commandsFixture{
		quakes:    &geonet.MockGeoNetClient{},
		scheduler: &recordingScheduler{},
		state:     state.NewStateService(memDB, memDB, testutils.NewMemoryTransactionManager(memDB)),
		memDB:     memDB,
		now:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.useCase = NewCommandsUseCase(f.quakes, f.scheduler, &fixedRoller{faces: faces})
	f.useCase.now = func() time.Time { return f.now }
	return f
}

// invoke runs a command the way the dispatcher would, holding the keys its scope requires
func (f *commandsFixture) invoke(t *testing.T, event *models.InteractionEvent) (*models.Response, error) {
	t.Helper()
	var descriptor *dispatch.HandlerDescriptor
	for _, d := range f.useCase.Descriptors() {
		if d.CommandName == event.CommandName {
			descriptor = d
		}
	}
	require.NotNil(t, descriptor, "unknown command %s", event.CommandName)

	keys, err := descriptor.Scope.KeysFor(event)
	require.NoError(t, err)
	return descriptor.Handler(context.Background(), event, state.NewScopedStore(f.state, event.ID, keys))
}

var eventSeq int

func newEvent(command, guildID, userID string, args ...models.Argument) *models.InteractionEvent {
	eventSeq++
	event := &models.InteractionEvent{
		ID:          fmt.Sprintf("evt-%d", eventSeq),
		CommandName: command,
		InvokerID:   userID,
		Arguments:   args,
		CreatedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	if guildID != "" {
		event.GuildID = &guildID
	}
	return event
}

func stringArg(name, value string) models.Argument {
	return models.Argument{Name: name, Type: models.ArgumentTypeString, Value: value}
}

func intArg(name string, value float64) models.Argument {
	return models.Argument{Name: name, Type: models.ArgumentTypeInteger, Value: value}
}

func TestRoll(t *testing.T) {
	f := newFixture(3, 5)

	resp, err := f.invoke(t, newEvent(CommandRoll, "G", "U", stringArg("dice", "2d6 + 1")))
	require.NoError(t, err)
	assert.Equal(t, "9 = 2d6[3, 5] + 1", resp.Content)

	records, err := f.state.ReadScoped(context.Background(), models.MemberScope("G", "U"), models.RecordKeyRollHistory)
	require.NoError(t, err)
	assert.True(t, records.IsPresent())

	profile, err := f.state.ReadScoped(context.Background(), models.UserScope("U"), models.RecordKeyProfile)
	require.NoError(t, err)
	assert.JSONEq(t, `{"roll_count": 1, "last_roll_at": "2024-05-01T12:00:00Z"}`, string(profile.MustGet().Payload))
}

func TestRoll_ProfileFailureRollsBackHistory(t *testing.T) {
	f := newFixture(4)
	event := newEvent(CommandRoll, "G", "U", stringArg("dice", "d20"))

	upserts := 0
	f.memDB.Fail = func(op string) error {
		if op != "UpsertRecord" {
			return nil
		}
		upserts++
		if upserts == 2 {
			return errors.New("connection reset")
		}
		return nil
	}

	_, err := f.invoke(t, event)
	require.ErrorIs(t, err, core.ErrStoreUnavailable)

	history, err := f.state.ReadScoped(context.Background(), models.MemberScope("G", "U"), models.RecordKeyRollHistory)
	require.NoError(t, err)
	assert.False(t, history.IsPresent())
	profile, err := f.state.ReadScoped(context.Background(), models.UserScope("U"), models.RecordKeyProfile)
	require.NoError(t, err)
	assert.False(t, profile.IsPresent())

	// Redelivery of the same interaction applies both records
	f.memDB.Fail = nil
	resp, err := f.invoke(t, event)
	require.NoError(t, err)
	assert.Equal(t, "4 = 1d20[4]", resp.Content)

	history, err = f.state.ReadScoped(context.Background(), models.MemberScope("G", "U"), models.RecordKeyRollHistory)
	require.NoError(t, err)
	var entries models.RollHistoryPayload
	require.NoError(t, json.Unmarshal(history.MustGet().Payload, &entries))
	assert.Len(t, entries.Entries, 1)

	profile, err = f.state.ReadScoped(context.Background(), models.UserScope("U"), models.RecordKeyProfile)
	require.NoError(t, err)
	assert.JSONEq(t, `{"roll_count": 1, "last_roll_at": "2024-05-01T12:00:00Z"}`, string(profile.MustGet().Payload))
}

func TestRoll_InvalidExpression(t *testing.T) {
	f := newFixture()

	_, err := f.invoke(t, newEvent(CommandRoll, "G", "U", stringArg("dice", "2d")))
	userErr, ok := core.AsUserError(err)
	require.True(t, ok)
	assert.Contains(t, userErr.Message, "Invalid dice expression")
	assert.Equal(t, 0, f.memDB.TotalCalls())

	_, err = f.invoke(t, newEvent(CommandRoll, "G", "U"))
	_, ok = core.AsUserError(err)
	assert.True(t, ok)
}

func TestRoll_InDirectMessage(t *testing.T) {
	f := newFixture(4)

	resp, err := f.invoke(t, newEvent(CommandRoll, "", "U", stringArg("dice", "d20")))
	require.NoError(t, err)
	assert.Equal(t, "4 = 1d20[4]", resp.Content)

	history, err := f.state.ReadScoped(context.Background(), models.UserScope("U"), models.RecordKeyRollHistory)
	require.NoError(t, err)
	assert.True(t, history.IsPresent())
}

func TestRolls(t *testing.T) {
	f := newFixture(2)

	resp, err := f.invoke(t, newEvent(CommandRolls, "G", "U"))
	require.NoError(t, err)
	assert.Equal(t, "You haven't rolled any dice yet.", resp.Content)

	for range 12 {
		_, err := f.invoke(t, newEvent(CommandRoll, "G", "U", stringArg("dice", "d6")))
		require.NoError(t, err)
	}

	resp, err = f.invoke(t, newEvent(CommandRolls, "G", "U"))
	require.NoError(t, err)
	require.Len(t, resp.Embeds, 1)
	assert.Equal(t, "Recent rolls", resp.Embeds[0].Title)
	assert.Len(t, splitLines(resp.Embeds[0].Description), recentRollsShown)
	assert.Equal(t, "12 rolls in total", resp.Embeds[0].Footer.Text)

	resp, err = f.invoke(t, newEvent(CommandRolls, "OTHER", "U"))
	require.NoError(t, err)
	assert.Equal(t, "You haven't rolled any dice yet.", resp.Content)
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := range len(s) {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	return append(lines, s[start:])
}

func TestQuake(t *testing.T) {
	quake := &models.Quake{
		PublicID:  "2024p123456",
		Time:      time.Unix(1714564800, 0),
		Depth:     12.3456,
		Magnitude: 4.56789,
		MMI:       5,
		Locality:  "10 km north of Wellington",
		Quality:   "best",
	}

	t.Run("defaults to MMI 3", func(t *testing.T) {
		f := newFixture()
		f.quakes.On("LatestQuake", mock.Anything, 3).Return(mo.Some(quake), nil).Once()

		resp, err := f.invoke(t, newEvent(CommandQuake, "G", "U"))
		require.NoError(t, err)
		f.quakes.AssertExpectations(t)

		embed := resp.Embeds[0]
		assert.Equal(t, "Quake ID 2024p123456", embed.Title)
		assert.Equal(t, "https://www.geonet.org.nz/earthquake/2024p123456", embed.URL)
		assert.Equal(t, "Most recent quake with MMI >= 3", embed.Description)
		assert.Equal(t, 0xFFCFB6, embed.Color)
		assert.Equal(t, []*discordgo.MessageEmbedField{
			{Name: "Magnitude", Value: "4.568", Inline: true},
			{Name: "MMI", Value: "5", Inline: true},
			{Name: "Depth", Value: "12.346 km", Inline: true},
			{Name: "Time", Value: "<t:1714564800:R>", Inline: true},
			{Name: "Quality", Value: "best", Inline: true},
			{Name: "Location", Value: "10 km north of Wellington", Inline: true},
		}, embed.Fields)
	})

	t.Run("high intensity", func(t *testing.T) {
		f := newFixture()
		f.quakes.On("LatestQuake", mock.Anything, 8).Return(mo.Some(quake), nil).Once()

		resp, err := f.invoke(t, newEvent(CommandQuake, "", "U", intArg("minimum_mmi", 8)))
		require.NoError(t, err)
		assert.Equal(t, "Well, fuck. Most recent quake with MMI >= 8", resp.Embeds[0].Description)
		assert.Equal(t, 0x992D22, resp.Embeds[0].Color)
	})

	t.Run("no quakes", func(t *testing.T) {
		f := newFixture()
		f.quakes.On("LatestQuake", mock.Anything, 0).Return(mo.None[*models.Quake](), nil).Once()

		_, err := f.invoke(t, newEvent(CommandQuake, "G", "U", intArg("minimum_mmi", 0)))
		userErr, ok := core.AsUserError(err)
		require.True(t, ok)
		assert.Equal(t, "No quakes found with the required intensity", userErr.Message)
	})

	t.Run("api failure is not shown to the user", func(t *testing.T) {
		f := newFixture()
		f.quakes.On("LatestQuake", mock.Anything, 3).Return(mo.None[*models.Quake](), errors.New("boom")).Once()

		_, err := f.invoke(t, newEvent(CommandQuake, "G", "U"))
		require.Error(t, err)
		_, ok := core.AsUserError(err)
		assert.False(t, ok)
	})

	t.Run("out of range", func(t *testing.T) {
		f := newFixture()
		_, err := f.invoke(t, newEvent(CommandQuake, "G", "U", intArg("minimum_mmi", 9)))
		_, ok := core.AsUserError(err)
		assert.True(t, ok)
		f.quakes.AssertNotCalled(t, "LatestQuake", mock.Anything, mock.Anything)
	})
}

func TestMMIColour(t *testing.T) {
	assert.Equal(t, lightGrey, mmiColour(-1))
	assert.Equal(t, lightGrey, mmiColour(0))
	assert.Equal(t, 0xFFFFEE, mmiColour(1))
	assert.Equal(t, 0xD5624F, mmiColour(7))
	assert.Equal(t, 0x992D22, mmiColour(12))
}

func TestRemindIn(t *testing.T) {
	f := newFixture()
	event := newEvent(CommandRemindIn, "G", "U",
		intArg("duration", 2),
		stringArg("unit", "months"),
		stringArg("message", "  renew passport "),
	)

	resp, err := f.invoke(t, event)
	require.NoError(t, err)

	due := event.CreatedAt.Add(56 * 24 * time.Hour)
	assert.Equal(t, fmt.Sprintf("Reminder created for <t:%d>", due.Unix()), resp.Content)

	require.Len(t, f.scheduler.scheduled, 1)
	reminder := f.scheduler.scheduled[0]
	assert.Equal(t, models.RecordKeyReminderPrefix+event.ID, reminder.Key)
	assert.Equal(t, "U", reminder.UserID)
	assert.Equal(t, "renew passport", reminder.Message)
	assert.True(t, due.Equal(reminder.DueAt))

	stored, err := f.state.ListByKeyPrefix(context.Background(), models.RecordKeyReminderPrefix)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, models.ScopeKeyUser, stored[0].ScopeKind)
	assert.Equal(t, "U", stored[0].ScopeID)

	_, err = f.invoke(t, event)
	assert.ErrorIs(t, err, core.ErrDuplicateInteraction)
	assert.Len(t, f.scheduler.scheduled, 1)
}

func TestRemindIn_Validation(t *testing.T) {
	tests := []struct {
		name string
		args []models.Argument
	}{
		{"zero duration", []models.Argument{intArg("duration", 0), stringArg("unit", "days"), stringArg("message", "x")}},
		{"too long", []models.Argument{intArg("duration", 10001), stringArg("unit", "days"), stringArg("message", "x")}},
		{"unknown unit", []models.Argument{intArg("duration", 1), stringArg("unit", "fortnights"), stringArg("message", "x")}},
		{"empty message", []models.Argument{intArg("duration", 1), stringArg("unit", "days"), stringArg("message", "  ")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.invoke(t, newEvent(CommandRemindIn, "", "U", tt.args...))
			_, ok := core.AsUserError(err)
			assert.True(t, ok)
			assert.Empty(t, f.scheduler.scheduled)
		})
	}
}

func TestRemindIn_MaximumDuration(t *testing.T) {
	createdAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		unit string
		due  time.Time
	}{
		{"seconds", createdAt.Add(10000 * time.Second)},
		{"minutes", createdAt.Add(10000 * time.Minute)},
		{"hours", createdAt.Add(10000 * time.Hour)},
		{"days", createdAt.AddDate(0, 0, 10000)},
		{"weeks", createdAt.AddDate(0, 0, 70000)},
		{"months", time.Date(2790, 12, 12, 12, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.unit, func(t *testing.T) {
			f := newFixture()
			event := newEvent(CommandRemindIn, "", "U",
				intArg("duration", maxReminderDuration),
				stringArg("unit", tt.unit),
				stringArg("message", "x"),
			)
			require.True(t, createdAt.Equal(event.CreatedAt))

			resp, err := f.invoke(t, event)
			require.NoError(t, err)

			require.Len(t, f.scheduler.scheduled, 1)
			reminder := f.scheduler.scheduled[0]
			assert.True(t, tt.due.Equal(reminder.DueAt), "got %s", reminder.DueAt)
			assert.True(t, reminder.DueAt.After(createdAt))
			assert.Equal(t, fmt.Sprintf("Reminder created for <t:%d>", tt.due.Unix()), resp.Content)
		})
	}
}

func TestTally(t *testing.T) {
	f := newFixture()

	resp, err := f.invoke(t, newEvent(CommandTally, "G", "U"))
	require.NoError(t, err)
	assert.Equal(t, "Tally is now **1**", resp.Content)

	resp, err = f.invoke(t, newEvent(CommandTally, "G", "V"))
	require.NoError(t, err)
	assert.Equal(t, "Tally is now **2**", resp.Content)

	resp, err = f.invoke(t, newEvent(CommandTally, "OTHER", "U"))
	require.NoError(t, err)
	assert.Equal(t, "Tally is now **1**", resp.Content)

	resp, err = f.invoke(t, newEvent(CommandTallyReset, "G", "ADMIN"))
	require.NoError(t, err)
	assert.Equal(t, "Tally reset by <@ADMIN>", resp.Content)

	_, err = f.invoke(t, newEvent(CommandTallyReset, "G", "ADMIN"))
	userErr, ok := core.AsUserError(err)
	require.True(t, ok)
	assert.Equal(t, "There is no tally to reset", userErr.Message)

	resp, err = f.invoke(t, newEvent(CommandTally, "G", "U"))
	require.NoError(t, err)
	assert.Equal(t, "Tally is now **1**", resp.Content)
}

func TestDescriptorsRegister(t *testing.T) {
	f := newFixture()
	registry, err := dispatch.NewRegistry(f.useCase.Descriptors()...)
	require.NoError(t, err)

	reset, ok := registry.Get(CommandTallyReset)
	require.True(t, ok)
	assert.Equal(t, manageGuild, reset.Permissions)

	quake, ok := registry.Get(CommandQuake)
	require.True(t, ok)
	assert.True(t, quake.Defer)
	assert.True(t, quake.Idempotent)
}

func TestApplicationCommands(t *testing.T) {
	f := newFixture()
	commands := ApplicationCommands()

	// every registered handler is reachable from a published command
	published := map[string]bool{}
	for _, command := range commands {
		if len(command.Options) > 0 && command.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
			for _, sub := range command.Options {
				published[command.Name+" "+sub.Name] = true
			}
			continue
		}
		published[command.Name] = true
	}
	for _, descriptor := range f.useCase.Descriptors() {
		assert.True(t, published[descriptor.CommandName], descriptor.CommandName)
	}

	var remindme *discordgo.ApplicationCommand
	for _, command := range commands {
		if command.Name == CommandRemindMe {
			remindme = command
		}
	}
	require.NotNil(t, remindme)
	units := remindme.Options[0].Options[1].Choices
	require.Len(t, units, 6)
	assert.Equal(t, "months", units[5].Value)
}
