package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/guildgate/guildgate/internal/channel"
)

const (
	embedColor       = 0x5865F2
	maxTitle         = 256
	maxDescription   = 4096
	maxFieldName     = 256
	maxFieldValue    = 1024
	maxFields        = 25
	maxFooter        = 2048
	emptyFieldFiller = "-"
)

func toEmbed(p channel.Prompt) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       truncate(p.Title, maxTitle),
		Description: truncate(p.Body, maxDescription),
		Color:       embedColor,
	}
	for i, f := range p.Fields {
		if i == maxFields {
			break
		}
		value := f.Value
		if value == "" {
			value = emptyFieldFiller
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  truncate(f.Name, maxFieldName),
			Value: truncate(value, maxFieldValue),
		})
	}
	if p.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: truncate(p.Footer, maxFooter)}
	}
	return embed
}

// truncate cuts s to at most limit runes, marking the cut with an ellipsis.
func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}
