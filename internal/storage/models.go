package storage

import "time"

type Guild struct {
	ID     int64
	Region string
	Server string
	Name   string
}

type Account struct {
	ID         int64
	BnetID     int64
	BnetTag    string
	Added      time.Time
	LastUpdate time.Time
}

// Character belongs to an account, a guild, or both.
type Character struct {
	ID         int64
	BnetID     int64
	Region     string
	Server     string
	Name       string
	Rank       int
	AccountID  *int64
	GuildID    *int64
	LastUpdate time.Time
}

type RemoteSystemType string

const (
	RemoteSystemDiscord   RemoteSystemType = "Discord"
	RemoteSystemTeamspeak RemoteSystemType = "Teamspeak"
	RemoteSystemForum     RemoteSystemType = "Forum"
)

func (t RemoteSystemType) Valid() bool {
	switch t {
	case RemoteSystemDiscord, RemoteSystemTeamspeak, RemoteSystemForum:
		return true
	}
	return false
}

// RemoteSystem is a community system (Discord server, forum) bound to a guild.
type RemoteSystem struct {
	ID                int64
	Guild             Guild
	Type              RemoteSystemType
	SystemID          int64
	NameOrLink        string
	MemberGroup       string
	FormerMemberGroup *string
	HMACKey           string
}

// RankToGroup grants Group to every guild rank in [From, To].
type RankToGroup struct {
	RemoteSystemID int64
	From           int
	To             int
	Group          string
}

type AccountRemoteID struct {
	AccountID      int64
	RemoteSystemID int64
	RemoteID       int64
}

type DiscordSettings struct {
	RemoteSystemID              int64
	ReactionMessageID           *int64
	DeleteUserAfterInactiveDays int
}

type OnlineUser struct {
	GuildID    int64
	MemberID   int64
	LastOnline time.Time
}

// UserToken is a stored Battle.net user access token.
type UserToken struct {
	Region      string
	BnetID      int64
	AccessToken string
	TokenType   string
	Expiry      time.Time
	Scope       string
}
