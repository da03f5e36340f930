package commands

import (
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/dispatchmap/dispatchmap/internal/pipeline"
	"github.com/dispatchmap/dispatchmap/internal/store"
)

func TestLocateDefinition(t *testing.T) {
	t.Parallel()

	def := (&LocateCommands{}).Definition()
	if def.Name != "locate" {
		t.Errorf("Name = %q, want %q", def.Name, "locate")
	}
	if len(def.Options) != 2 {
		t.Fatalf("Options count = %d, want 2", len(def.Options))
	}
	if def.Options[0].Name != "text" || !def.Options[0].Required {
		t.Errorf("option[0] = %+v, want required text option", def.Options[0])
	}
	if def.Options[1].Name != "talkgroup" || def.Options[1].Required {
		t.Errorf("option[1] = %+v, want optional talkgroup option", def.Options[1])
	}
}

func TestHistoryDefinition(t *testing.T) {
	t.Parallel()

	def := (&HistoryCommands{}).Definition()
	if def.Name != "history" {
		t.Errorf("Name = %q, want %q", def.Name, "history")
	}
	if len(def.Options) != 2 {
		t.Fatalf("Options count = %d, want 2", len(def.Options))
	}
	if def.Options[1].Type != discordgo.ApplicationCommandOptionInteger {
		t.Errorf("limit option type = %d, want Integer", def.Options[1].Type)
	}
}

func TestBuildLocateEmbed(t *testing.T) {
	t.Parallel()

	result := &pipeline.Result{
		Annotated: "[100 Main St](https://maps.example)",
		Resolutions: []pipeline.Resolution{{
			Address:   "100 Main St, CT",
			Latitude:  41.7658,
			Longitude: -72.6734,
			County:    "Hartford County",
			Provider:  "nominatim",
		}},
	}

	embed := buildLocateEmbed("100 Main St", result)
	if embed.Title != "Resolved: 100 Main St" {
		t.Errorf("Title = %q", embed.Title)
	}
	if len(embed.Fields) != 1 {
		t.Fatalf("fields = %d, want 1", len(embed.Fields))
	}
	// No formatted address from the backend, so the field falls back to
	// the normalized one.
	if embed.Fields[0].Name != "100 Main St, CT" {
		t.Errorf("field name = %q, want normalized address", embed.Fields[0].Name)
	}
	if !strings.Contains(embed.Fields[0].Value, "nominatim") {
		t.Errorf("field value = %q, want provider name", embed.Fields[0].Value)
	}
}

func TestBuildHistoryEmbed(t *testing.T) {
	t.Parallel()

	received := time.Date(2026, 8, 29, 14, 30, 5, 0, time.UTC)
	calls := []store.Call{
		{
			Talkgroup:  "tg-100",
			Transcript: "respond to 100 Main St",
			Annotated:  "respond to [100 Main St](https://maps.example)",
			Outcome:    "resolved",
			ReceivedAt: received,
		},
		{
			Talkgroup:  "tg-100",
			Transcript: "medical alarm",
			Outcome:    "no_address",
			ReceivedAt: received.Add(-time.Minute),
		},
	}

	embed := buildHistoryEmbed("tg-100", calls)
	if !strings.Contains(embed.Title, "tg-100") {
		t.Errorf("Title = %q, want talkgroup", embed.Title)
	}
	if !strings.Contains(embed.Description, "[100 Main St](") {
		t.Errorf("Description = %q, want annotated transcript for resolved call", embed.Description)
	}
	// Calls without markup fall back to the raw transcript.
	if !strings.Contains(embed.Description, "medical alarm") {
		t.Errorf("Description = %q, want raw transcript for unresolved call", embed.Description)
	}
	if !strings.Contains(embed.Description, "14:30:05") {
		t.Errorf("Description = %q, want timestamp", embed.Description)
	}

	untitled := buildHistoryEmbed("", calls)
	if untitled.Title != "Recent calls" {
		t.Errorf("Title = %q, want %q", untitled.Title, "Recent calls")
	}
}

func TestOptionHelpers(t *testing.T) {
	t.Parallel()

	data := discordgo.ApplicationCommandInteractionData{
		Options: []*discordgo.ApplicationCommandInteractionDataOption{
			{Name: "text", Type: discordgo.ApplicationCommandOptionString, Value: "100 Main St"},
			{Name: "limit", Type: discordgo.ApplicationCommandOptionInteger, Value: float64(5)},
		},
	}

	if got := optionString(data, "text"); got != "100 Main St" {
		t.Errorf("optionString(text) = %q", got)
	}
	if got := optionString(data, "missing"); got != "" {
		t.Errorf("optionString(missing) = %q, want empty", got)
	}
	if got := optionInt(data, "limit"); got != 5 {
		t.Errorf("optionInt(limit) = %d, want 5", got)
	}
	if got := optionInt(data, "missing"); got != 0 {
		t.Errorf("optionInt(missing) = %d, want 0", got)
	}
}
