// Package commands implements the dispatchmap slash commands.
package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/dispatchmap/dispatchmap/internal/discord"
	"github.com/dispatchmap/dispatchmap/internal/pipeline"
)

// locateColor is the embed sidebar color for /locate results.
const locateColor = 0x27AE60

// locateTimeout bounds one on-demand pipeline run. Interaction tokens
// expire after 15 minutes; a run that slow is dead anyway.
const locateTimeout = 2 * time.Minute

// LocateCommands handles the /locate slash command: run a piece of text
// through the resolution pipeline on demand.
type LocateCommands struct {
	pipe *pipeline.Pipeline
}

// NewLocateCommands creates a LocateCommands and registers its handler with
// the router.
func NewLocateCommands(router *discord.CommandRouter, pipe *pipeline.Pipeline) *LocateCommands {
	lc := &LocateCommands{pipe: pipe}
	router.RegisterCommand("locate", lc.Definition(), lc.handleLocate)
	return lc
}

// Definition returns the /locate application command definition.
func (lc *LocateCommands) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "locate",
		Description: "Resolve an address or transcript snippet to a map location",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "text",
				Description: "Address or transcript text to resolve",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "talkgroup",
				Description: "Talkgroup whose locale hints to apply",
			},
		},
	}
}

// handleLocate handles /locate.
func (lc *LocateCommands) handleLocate(s discord.Interactions, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	text := optionString(data, "text")
	talkgroup := optionString(data, "talkgroup")

	if text == "" {
		discord.RespondEphemeral(s, i, "Nothing to resolve.")
		return
	}

	// Geocoding can queue behind live calls; answer within the
	// interaction deadline via a deferred reply.
	discord.DeferReply(s, i)

	ctx, cancel := context.WithTimeout(context.Background(), locateTimeout)
	defer cancel()

	result := lc.pipe.Process(ctx, text, talkgroup)
	if result == nil {
		discord.FollowUp(s, i, "No address could be resolved from that text.")
		return
	}
	discord.FollowUpEmbed(s, i, buildLocateEmbed(text, result))
}

// buildLocateEmbed renders an on-demand resolution as an embed.
func buildLocateEmbed(query string, result *pipeline.Result) *discordgo.MessageEmbed {
	fields := make([]*discordgo.MessageEmbedField, 0, len(result.Resolutions))
	for _, r := range result.Resolutions {
		name := r.FormattedAddress
		if name == "" {
			name = r.Address
		}
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: name,
			Value: fmt.Sprintf("%s • %s • %.6f, %.6f",
				r.County, r.Provider, r.Latitude, r.Longitude),
		})
	}

	return &discordgo.MessageEmbed{
		Title:       "Resolved: " + query,
		Description: result.Annotated,
		Color:       locateColor,
		Fields:      fields,
	}
}

// optionString returns the named string option, or "" when absent.
func optionString(data discordgo.ApplicationCommandInteractionData, name string) string {
	for _, opt := range data.Options {
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionString {
			return opt.StringValue()
		}
	}
	return ""
}
