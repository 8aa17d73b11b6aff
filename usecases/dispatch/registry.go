package dispatch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"athena/models"
	"athena/services"
)

// Handler executes one command invocation against the scoped state handle
type Handler func(ctx context.Context, event *models.InteractionEvent, store services.ScopedStore) (*models.Response, error)

// HandlerDescriptor declares how a command is dispatched
type HandlerDescriptor struct {
	CommandName string
	Scope       models.ScopeKind
	// Permissions the invoking member must have, as a Discord permission bit set
	Permissions int64
	// Idempotent handlers are retried when the store is briefly unavailable
	Idempotent bool
	// Defer acknowledges the interaction before the handler runs
	Defer     bool
	Ephemeral bool
	Handler   Handler
}

// Registry maps command names to descriptors. It is populated once at startup
// and read-only afterwards.
type Registry struct {
	commands map[string]*HandlerDescriptor
	names    []string
}

func NewRegistry(descriptors ...*HandlerDescriptor) (*Registry, error) {
	r := &Registry{commands: make(map[string]*HandlerDescriptor, len(descriptors))}
	for _, descriptor := range descriptors {
		if descriptor.CommandName == "" {
			return nil, fmt.Errorf("command descriptor without a name")
		}
		if descriptor.Handler == nil {
			return nil, fmt.Errorf("command %q has no handler", descriptor.CommandName)
		}
		if _, exists := r.commands[descriptor.CommandName]; exists {
			return nil, fmt.Errorf("command %q registered twice", descriptor.CommandName)
		}
		switch descriptor.Scope {
		case models.ScopeNone, models.ScopeGuild, models.ScopeUser, models.ScopeGuildUser:
		default:
			return nil, fmt.Errorf("command %q has unsupported scope %q", descriptor.CommandName, descriptor.Scope)
		}

		log.Debug().Str("command", descriptor.CommandName).Str("scope", string(descriptor.Scope)).
			Msg("adding command handler to registry")
		r.commands[descriptor.CommandName] = descriptor
		r.names = append(r.names, descriptor.CommandName)
	}
	return r, nil
}

// Get looks up a command by exact name
func (r *Registry) Get(commandName string) (*HandlerDescriptor, bool) {
	descriptor, ok := r.commands[commandName]
	return descriptor, ok
}

// CommandNames lists registered commands in registration order
func (r *Registry) CommandNames() []string {
	return append([]string(nil), r.names...)
}
