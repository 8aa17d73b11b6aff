package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"athena/clients"
	"athena/core"
	"athena/models"
	"athena/services"
	"athena/services/scopelock"
	"athena/services/state"
)

const (
	storeRetryAttempts = 3
	sendTimeout        = 15 * time.Second

	unavailableMessage = "That command is unavailable."
	timeoutMessage     = "That took too long. Please try again."
	forbiddenMessage   = "You don't have permission to use this command."
	guildOnlyMessage   = "This command can only be used in a server."
	storeDownMessage   = "Storage is unavailable right now. Please try again later."
	genericMessage     = "Something went wrong while running that command."
)

var tracer = otel.Tracer("athena/usecases/dispatch")

// ErrorAlerter records internal diagnostics for failed dispatches
type ErrorAlerter interface {
	AlertOnError(err error, context string)
}

// Dispatcher routes interaction events to their handlers. Each event runs in its
// own goroutine; events touching the same scope are serialized by the scope lock
// manager while unrelated events proceed independently.
type Dispatcher struct {
	registry  *Registry
	locks     *scopelock.Manager
	state     services.StateService
	responder clients.InteractionResponder
	alerter   ErrorAlerter
	timeout   time.Duration

	storeRetryDelay time.Duration

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

func NewDispatcher(
	registry *Registry,
	locks *scopelock.Manager,
	stateService services.StateService,
	responder clients.InteractionResponder,
	alerter ErrorAlerter,
	timeout time.Duration,
) *Dispatcher {
	return &Dispatcher{
		registry:        registry,
		locks:           locks,
		state:           stateService,
		responder:       responder,
		alerter:         alerter,
		timeout:         timeout,
		storeRetryDelay: 100 * time.Millisecond,
	}
}

// OnEvent is the gateway push callback. It returns immediately.
func (d *Dispatcher) OnEvent(event *models.InteractionEvent) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		log.Warn().Stringer("event", event).Msg("⚠️ Dropping interaction received during shutdown")
		return
	}
	d.inflight.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				d.alerter.AlertOnError(fmt.Errorf("%w: %v", core.ErrHandlerPanic, r), "dispatch "+event.CommandName)
			}
		}()

		_ = d.Dispatch(context.Background(), event)
	}()
}

// Shutdown stops accepting events and waits for in-flight dispatches to finish
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		log.Info().Msg("✅ All in-flight interactions drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out draining in-flight interactions: %w", ctx.Err())
	}
}

// Dispatch handles one event to completion. Every failure is converted into a
// best-effort reply to the user plus a diagnostic record; the returned error is
// for observability only.
func (d *Dispatcher) Dispatch(ctx context.Context, event *models.InteractionEvent) error {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "dispatch "+event.CommandName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("command", event.CommandName),
			attribute.String("interaction.id", event.ID),
			attribute.Bool("interaction.in_guild", event.InGuild()),
		),
	)
	defer span.End()

	keys, err := d.dispatch(ctx, event, span)
	d.record(span, event, keys, err, time.Since(start))
	return err
}

func (d *Dispatcher) dispatch(ctx context.Context, event *models.InteractionEvent, span trace.Span) ([]models.ScopeKey, error) {
	descriptor, ok := d.registry.Get(event.CommandName)
	if !ok {
		d.send(ctx, event, false, models.ErrorResponse(unavailableMessage))
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownCommand, event.CommandName)
	}

	if !hasPermissions(event.MemberPermissions, descriptor.Permissions) {
		d.send(ctx, event, false, models.ErrorResponse(forbiddenMessage))
		return nil, fmt.Errorf("%w: %s", core.ErrForbidden, event.CommandName)
	}

	keys, err := descriptor.Scope.KeysFor(event)
	if err != nil {
		message := genericMessage
		if errors.Is(err, core.ErrGuildRequired) {
			message = guildOnlyMessage
		}
		d.send(ctx, event, false, models.ErrorResponse(message))
		return nil, err
	}
	span.SetAttributes(attribute.StringSlice("scope.keys", scopeStrings(keys)))

	deferred := false
	if descriptor.Defer {
		if err := d.responder.Defer(ctx, event, descriptor.Ephemeral); err != nil {
			return keys, fmt.Errorf("failed to acknowledge interaction: %w", err)
		}
		deferred = true
	}

	handlerCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	guard, err := d.locks.Acquire(handlerCtx, keys)
	if err != nil {
		d.send(ctx, event, deferred, models.ErrorResponse(timeoutMessage))
		return keys, fmt.Errorf("%w: waiting for scope locks: %v", core.ErrHandlerTimeout, err)
	}
	defer guard.Release()

	resp, err := d.runWithRetry(handlerCtx, descriptor, event, guard.Scopes())
	if err != nil {
		guard.Release()
		if errors.Is(err, core.ErrDuplicateInteraction) {
			return keys, err
		}
		d.send(ctx, event, deferred, errorResponse(err))
		return keys, err
	}

	// Replies go out while the scopes are still held so responses for the same
	// scope are delivered in lock order
	if descriptor.Ephemeral {
		resp.Ephemeral = true
	}
	if err := d.deliver(ctx, event, deferred, resp); err != nil {
		return keys, fmt.Errorf("failed to deliver response: %w", err)
	}
	return keys, nil
}

func (d *Dispatcher) runWithRetry(
	ctx context.Context,
	descriptor *HandlerDescriptor,
	event *models.InteractionEvent,
	held []models.ScopeKey,
) (*models.Response, error) {
	var resp *models.Response
	var err error
	for attempt := 1; attempt <= storeRetryAttempts; attempt++ {
		resp, err = d.run(ctx, descriptor, event, held)
		if err == nil || !descriptor.Idempotent || !errors.Is(err, core.ErrStoreUnavailable) {
			return resp, err
		}
		if attempt == storeRetryAttempts {
			break
		}

		delay := d.storeRetryDelay << (attempt - 1)
		log.Warn().Err(err).Str("command", event.CommandName).Int("attempt", attempt).Dur("backoff", delay).
			Msg("⚠️ Store unavailable, retrying idempotent handler")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w after %s", core.ErrHandlerTimeout, d.timeout)
		}
	}
	return resp, err
}

type handlerResult struct {
	resp *models.Response
	err  error
}

// run executes the handler and waits for it no longer than ctx allows. A handler
// that overruns keeps running detached, but its store handle is bound to the
// cancelled context and can no longer write.
func (d *Dispatcher) run(
	ctx context.Context,
	descriptor *HandlerDescriptor,
	event *models.InteractionEvent,
	held []models.ScopeKey,
) (*models.Response, error) {
	store := state.NewScopedStore(d.state, event.ID, held)
	done := make(chan handlerResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("command", event.CommandName).Interface("panic", r).Bytes("stack", debug.Stack()).
					Msg("❌ Command handler panicked")
				done <- handlerResult{err: fmt.Errorf("%w: %v", core.ErrHandlerPanic, r)}
			}
		}()

		resp, err := descriptor.Handler(ctx, event, store)
		if err == nil && resp == nil {
			err = fmt.Errorf("command %s returned no response", event.CommandName)
		}
		done <- handlerResult{resp: resp, err: err}
	}()

	select {
	case result := <-done:
		if result.err != nil && ctx.Err() != nil && errors.Is(result.err, ctx.Err()) {
			return nil, fmt.Errorf("%w after %s", core.ErrHandlerTimeout, d.timeout)
		}
		return result.resp, result.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w after %s", core.ErrHandlerTimeout, d.timeout)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event *models.InteractionEvent, deferred bool, resp *models.Response) error {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	if deferred {
		return d.responder.EditReply(sendCtx, event, resp)
	}
	return d.responder.Reply(sendCtx, event, resp)
}

// send is a best-effort reply whose failure is only logged
func (d *Dispatcher) send(ctx context.Context, event *models.InteractionEvent, deferred bool, resp *models.Response) {
	if err := d.deliver(ctx, event, deferred, resp); err != nil {
		log.Warn().Err(err).Stringer("event", event).Msg("⚠️ Failed to send error response")
	}
}

func (d *Dispatcher) record(span trace.Span, event *models.InteractionEvent, keys []models.ScopeKey, err error, elapsed time.Duration) {
	outcome := classify(err)
	span.SetAttributes(attribute.String("outcome", outcome))

	var level zerolog.Level
	switch outcome {
	case "ok":
		level = zerolog.InfoLevel
		span.SetStatus(codes.Ok, "")
	case "user_error", "duplicate", "forbidden", "guild_required", "unknown_command":
		level = zerolog.InfoLevel
		span.SetStatus(codes.Ok, outcome)
		span.AddEvent(outcome)
	default:
		level = zerolog.ErrorLevel
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		d.alerter.AlertOnError(err, fmt.Sprintf("dispatch %s (%s)", event.CommandName, outcome))
	}

	logEvent := log.WithLevel(level).
		Str("command", event.CommandName).
		Str("interaction_id", event.ID).
		Strs("scopes", scopeStrings(keys)).
		Str("outcome", outcome).
		Dur("duration", elapsed)
	if err != nil {
		logEvent = logEvent.Err(err)
	}
	if outcome == "ok" {
		logEvent.Msg("✅ Interaction dispatched")
	} else {
		logEvent.Msg("⚠️ Interaction failed")
	}
}

func classify(err error) string {
	if err == nil {
		return "ok"
	}
	if _, ok := core.AsUserError(err); ok {
		return "user_error"
	}
	switch {
	case errors.Is(err, core.ErrUnknownCommand):
		return "unknown_command"
	case errors.Is(err, core.ErrForbidden):
		return "forbidden"
	case errors.Is(err, core.ErrGuildRequired):
		return "guild_required"
	case errors.Is(err, core.ErrDuplicateInteraction):
		return "duplicate"
	case errors.Is(err, core.ErrHandlerTimeout):
		return "timeout"
	case errors.Is(err, core.ErrHandlerPanic):
		return "panic"
	case errors.Is(err, core.ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "error"
	}
}

func errorResponse(err error) *models.Response {
	if userErr, ok := core.AsUserError(err); ok {
		return models.ErrorResponse(userErr.Message)
	}
	switch {
	case errors.Is(err, core.ErrHandlerTimeout):
		return models.ErrorResponse(timeoutMessage)
	case errors.Is(err, core.ErrStoreUnavailable):
		return models.ErrorResponse(storeDownMessage)
	default:
		return models.ErrorResponse(genericMessage)
	}
}

func hasPermissions(granted, required int64) bool {
	if required == 0 || granted&discordgo.PermissionAdministrator != 0 {
		return true
	}
	return granted&required == required
}

func scopeStrings(keys []models.ScopeKey) []string {
	result := make([]string, len(keys))
	for i, key := range keys {
		result[i] = key.String()
	}
	return result
}
