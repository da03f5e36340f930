package discord

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/dispatchmap/dispatchmap/internal/pipeline"
)

// embedColor is the sidebar color for resolved-call embeds.
const embedColor = 0xC0392B

// maxEmbedDescriptionLen is the Discord embed description character limit.
const maxEmbedDescriptionLen = 4096

// maxMessageContentLen is the Discord plain-message character limit.
const maxMessageContentLen = 2000

// MessageSender is the slice of discordgo.Session the notifier needs.
type MessageSender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Notifier posts annotated call transcripts to per-talkgroup channels.
type Notifier struct {
	sender   MessageSender
	channels map[string]string
	logger   *slog.Logger
}

// NewNotifier creates a Notifier posting through sender. channels maps
// talkgroup IDs to channel IDs, with "default" as the catch-all.
func NewNotifier(sender MessageSender, channels map[string]string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{sender: sender, channels: channels, logger: logger}
}

// Notify posts one call to the talkgroup's channel: an embed with the
// annotated transcript when the call resolved, the plain transcript when it
// did not. Calls for talkgroups without a channel mapping are dropped
// silently; Discord is a best-effort surface and must never stall the
// pipeline.
func (n *Notifier) Notify(talkgroup, transcript string, result *pipeline.Result) {
	channelID := n.channelFor(talkgroup)
	if channelID == "" {
		n.logger.Debug("discord: no channel for talkgroup", "talkgroup", talkgroup)
		return
	}

	msg := &discordgo.MessageSend{}
	if result != nil && len(result.Resolutions) > 0 {
		msg.Embeds = []*discordgo.MessageEmbed{buildCallEmbed(talkgroup, result)}
	} else {
		if strings.TrimSpace(transcript) == "" {
			return
		}
		msg.Content = truncate(fmt.Sprintf("**%s** %s", talkgroup, transcript), maxMessageContentLen)
	}

	if _, err := n.sender.ChannelMessageSendComplex(channelID, msg); err != nil {
		n.logger.Warn("discord: failed to post call",
			"talkgroup", talkgroup, "channel", channelID, "err", err)
	}
}

// channelFor resolves a talkgroup to its channel, falling back to "default".
func (n *Notifier) channelFor(talkgroup string) string {
	if id, ok := n.channels[talkgroup]; ok {
		return id
	}
	return n.channels["default"]
}

// buildCallEmbed renders one resolved call as a Discord embed. The
// description carries the annotated transcript, so the map links are
// clickable in place.
func buildCallEmbed(talkgroup string, result *pipeline.Result) *discordgo.MessageEmbed {
	description := truncate(result.Annotated, maxEmbedDescriptionLen)

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
		Title:       fmt.Sprintf("Dispatch call: %s", talkgroup),
		Description: description,
		Color:       embedColor,
		Fields:      fields,
	}
}

// truncate caps s at limit characters, cutting on rune boundaries so a
// multi-byte character is never split, and marks cut text with an ellipsis.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
