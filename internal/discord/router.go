package discord

import (
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// HandlerFunc is the signature for slash command handlers.
type HandlerFunc func(s Interactions, i *discordgo.InteractionCreate)

// AutocompleteFunc is the signature for autocomplete handlers.
type AutocompleteFunc func(s Interactions, i *discordgo.InteractionCreate)

// registration bundles everything the router knows about one command.
type registration struct {
	definition   *discordgo.ApplicationCommand
	handler      HandlerFunc
	autocomplete AutocompleteFunc
}

// CommandRouter dispatches Discord interactions to registered handlers.
type CommandRouter struct {
	mu   sync.RWMutex
	cmds map[string]*registration
}

// NewCommandRouter creates an empty router.
func NewCommandRouter() *CommandRouter {
	return &CommandRouter{cmds: make(map[string]*registration)}
}

// lookup returns the registration for name, creating it if needed.
// Callers must hold the write lock.
func (r *CommandRouter) lookup(name string) *registration {
	reg := r.cmds[name]
	if reg == nil {
		reg = &registration{}
		r.cmds[name] = reg
	}
	return reg
}

// RegisterCommand registers a handler for a slash command. The cmd
// definition is used when registering commands with the Discord API.
func (r *CommandRouter) RegisterCommand(name string, cmd *discordgo.ApplicationCommand, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg := r.lookup(name)
	reg.definition = cmd
	reg.handler = handler
}

// RegisterAutocomplete registers an autocomplete handler for a command.
func (r *CommandRouter) RegisterAutocomplete(name string, handler AutocompleteFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookup(name).autocomplete = handler
}

// ApplicationCommands returns the list of command definitions for
// registration with the Discord API.
func (r *CommandRouter) ApplicationCommands() []*discordgo.ApplicationCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*discordgo.ApplicationCommand, 0, len(r.cmds))
	for _, reg := range r.cmds {
		if reg.definition != nil {
			defs = append(defs, reg.definition)
		}
	}
	return defs
}

// Handle dispatches an interaction to the appropriate handler.
func (r *CommandRouter) Handle(s Interactions, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand &&
		i.Type != discordgo.InteractionApplicationCommandAutocomplete {
		slog.Warn("discord: unhandled interaction type", "type", i.Type)
		return
	}

	name := i.ApplicationCommandData().Name
	r.mu.RLock()
	reg := r.cmds[name]
	r.mu.RUnlock()

	if i.Type == discordgo.InteractionApplicationCommandAutocomplete {
		if reg == nil || reg.autocomplete == nil {
			slog.Debug("discord: no autocomplete handler", "name", name)
			// Discord expects an answer even when we have no choices.
			_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
				Type: discordgo.InteractionApplicationCommandAutocompleteResult,
				Data: &discordgo.InteractionResponseData{},
			})
			return
		}
		reg.autocomplete(s, i)
		return
	}

	if reg == nil || reg.handler == nil {
		slog.Warn("discord: unknown command", "name", name)
		RespondEphemeral(s, i, "Unknown command.")
		return
	}
	reg.handler(s, i)
}
