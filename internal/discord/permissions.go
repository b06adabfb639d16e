package discord

import "github.com/bwmarrin/discordgo"

// isAdministrator reports whether the member invoking an interaction has
// the administrator permission. Interactions carry the member's resolved
// permissions, which include the owner's.
func isAdministrator(member *discordgo.Member) bool {
	return member != nil && member.Permissions&discordgo.PermissionAdministrator != 0
}
