package discord

import (
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// Interactions is the slice of the discordgo session API that command
// handlers reply through. *discordgo.Session satisfies it; tests drive
// handlers with a recording double instead of a live gateway session.
type Interactions interface {
	InteractionRespond(i *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	FollowupMessageCreate(i *discordgo.Interaction, wait bool, params *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var _ Interactions = (*discordgo.Session)(nil)

// All replies are ephemeral. Command output is only useful to whoever
// asked, and keeping it private keeps dispatch channels readable.

func respond(s Interactions, i *discordgo.InteractionCreate, kind discordgo.InteractionResponseType, data *discordgo.InteractionResponseData) {
	data.Flags |= discordgo.MessageFlagsEphemeral
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{Type: kind, Data: data}); err != nil {
		slog.Warn("discord: interaction response failed", "err", err)
	}
}

func followUp(s Interactions, i *discordgo.InteractionCreate, params *discordgo.WebhookParams) {
	params.Flags |= discordgo.MessageFlagsEphemeral
	if _, err := s.FollowupMessageCreate(i.Interaction, true, params); err != nil {
		slog.Warn("discord: follow-up failed", "err", err)
	}
}

// RespondEphemeral sends an immediate text reply to an interaction.
func RespondEphemeral(s Interactions, i *discordgo.InteractionCreate, content string) {
	respond(s, i, discordgo.InteractionResponseChannelMessageWithSource,
		&discordgo.InteractionResponseData{Content: content})
}

// RespondEmbed sends an immediate embed reply to an interaction.
func RespondEmbed(s Interactions, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	respond(s, i, discordgo.InteractionResponseChannelMessageWithSource,
		&discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{embed}})
}

// RespondError reports a handler failure to the user.
func RespondError(s Interactions, i *discordgo.InteractionCreate, err error) {
	RespondEphemeral(s, i, fmt.Sprintf("Error: %v", err))
}

// DeferReply acknowledges an interaction so a handler can take longer
// than the initial response deadline. Finish with FollowUp or
// FollowUpEmbed.
func DeferReply(s Interactions, i *discordgo.InteractionCreate) {
	respond(s, i, discordgo.InteractionResponseDeferredChannelMessageWithSource,
		&discordgo.InteractionResponseData{})
}

// FollowUp sends a text message after a deferred reply.
func FollowUp(s Interactions, i *discordgo.InteractionCreate, content string) {
	followUp(s, i, &discordgo.WebhookParams{Content: content})
}

// FollowUpEmbed sends an embed after a deferred reply.
func FollowUpEmbed(s Interactions, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	followUp(s, i, &discordgo.WebhookParams{Embeds: []*discordgo.MessageEmbed{embed}})
}
