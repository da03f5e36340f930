package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/dispatchmap/dispatchmap/internal/discord"
	"github.com/dispatchmap/dispatchmap/internal/store"
)

// historyColor is the embed sidebar color for /history results.
const historyColor = 0x2980B9

const (
	historyDefaultLimit = 10
	historyMaxLimit     = 25
	historyTimeout      = 10 * time.Second
)

// CallArchive is the slice of the store the /history command needs.
type CallArchive interface {
	RecentCalls(ctx context.Context, talkgroup string, limit int) ([]store.Call, error)
}

// HistoryCommands handles the /history slash command: list recently
// archived calls for a talkgroup.
type HistoryCommands struct {
	archive CallArchive
}

// NewHistoryCommands creates a HistoryCommands and registers its handler
// with the router.
func NewHistoryCommands(router *discord.CommandRouter, archive CallArchive) *HistoryCommands {
	hc := &HistoryCommands{archive: archive}
	router.RegisterCommand("history", hc.Definition(), hc.handleHistory)
	return hc
}

// Definition returns the /history application command definition.
func (hc *HistoryCommands) Definition() *discordgo.ApplicationCommand {
	minLimit := float64(1)
	return &discordgo.ApplicationCommand{
		Name:        "history",
		Description: "Show recently processed calls",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "talkgroup",
				Description: "Restrict to one talkgroup",
			},
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "limit",
				Description: fmt.Sprintf("Number of calls to show (default %d)", historyDefaultLimit),
				MinValue:    &minLimit,
				MaxValue:    historyMaxLimit,
			},
		},
	}
}

// handleHistory handles /history.
func (hc *HistoryCommands) handleHistory(s discord.Interactions, i *discordgo.InteractionCreate) {
	if hc.archive == nil {
		discord.RespondEphemeral(s, i, "The call archive is not configured.")
		return
	}

	data := i.ApplicationCommandData()
	talkgroup := optionString(data, "talkgroup")
	limit := optionInt(data, "limit")
	if limit <= 0 {
		limit = historyDefaultLimit
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	calls, err := hc.archive.RecentCalls(ctx, talkgroup, limit)
	if err != nil {
		discord.RespondError(s, i, err)
		return
	}
	if len(calls) == 0 {
		discord.RespondEphemeral(s, i, "No archived calls found.")
		return
	}

	discord.RespondEmbed(s, i, buildHistoryEmbed(talkgroup, calls))
}

// buildHistoryEmbed renders archived calls as one embed, newest first.
func buildHistoryEmbed(talkgroup string, calls []store.Call) *discordgo.MessageEmbed {
	title := "Recent calls"
	if talkgroup != "" {
		title += ": " + talkgroup
	}

	var b strings.Builder
	for _, c := range calls {
		text := c.Annotated
		if text == "" {
			text = c.Transcript
		}
		fmt.Fprintf(&b, "`%s` **%s** [%s]\n%s\n\n",
			c.ReceivedAt.Format("15:04:05"), c.Talkgroup, c.Outcome, text)
	}

	description := strings.TrimRight(b.String(), "\n")
	if runes := []rune(description); len(runes) > 4096 {
		description = string(runes[:4095]) + "…"
	}

	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       historyColor,
	}
}

// optionInt returns the named integer option, or 0 when absent.
func optionInt(data discordgo.ApplicationCommandInteractionData, name string) int {
	for _, opt := range data.Options {
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionInteger {
			return int(opt.IntValue())
		}
	}
	return 0
}
