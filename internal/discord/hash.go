package discord

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/bwmarrin/discordgo"
)

// commandShape is what a user sees of a command. Ids and versions
// assigned by Discord are left out.
type commandShape struct {
	Name        string                           `json:"name"`
	Description string                           `json:"description"`
	Type        discordgo.ApplicationCommandType `json:"type"`
	Permissions *int64                           `json:"permissions,omitempty"`
	Options     []optionShape                    `json:"options,omitempty"`
}

type optionShape struct {
	Name        string                                 `json:"name"`
	Description string                                 `json:"description"`
	Type        discordgo.ApplicationCommandOptionType `json:"type"`
	Required    bool                                   `json:"required"`
	Choices     []choiceShape                          `json:"choices,omitempty"`
	Options     []optionShape                          `json:"options,omitempty"`
}

type choiceShape struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// hashCommand identifies a command definition independent of option order.
func hashCommand(cmd *discordgo.ApplicationCommand) string {
	data, _ := json.Marshal(commandShape{
		Name:        cmd.Name,
		Description: cmd.Description,
		Type:        cmd.Type,
		Permissions: cmd.DefaultMemberPermissions,
		Options:     shapeOptions(cmd.Options),
	})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func shapeOptions(opts []*discordgo.ApplicationCommandOption) []optionShape {
	if len(opts) == 0 {
		return nil
	}
	out := make([]optionShape, 0, len(opts))
	for _, o := range opts {
		s := optionShape{
			Name:        o.Name,
			Description: o.Description,
			Type:        o.Type,
			Required:    o.Required,
			Options:     shapeOptions(o.Options),
		}
		for _, c := range o.Choices {
			s.Choices = append(s.Choices, choiceShape{Name: c.Name, Value: c.Value})
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
