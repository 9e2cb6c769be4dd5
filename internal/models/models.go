package models

const (
	ChannelTypeText     = "text"
	ChannelTypeCategory = "category"
	ChannelTypeDm       = "dm"
)

const (
	StatusOnline  = "online"
	StatusIdle    = "idle"
	StatusDnd     = "dnd"
	StatusOffline = "offline"
)

type User struct {
	ID            int64  `json:"id,string"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	Password      []byte `json:"-"`
}

type Guild struct {
	ID      int64  `json:"id,string"`
	OwnerID int64  `json:"ownerID,string"`
	Name    string `json:"name"`
}

type Channel struct {
	ID       int64  `json:"id,string"`
	GuildID  int64  `json:"guildID,string,omitempty"`
	Type     string `json:"type"`
	ParentID int64  `json:"parentID,string,omitempty"`
	Name     string `json:"name"`
}

type Role struct {
	ID          int64  `json:"id,string"`
	GuildID     int64  `json:"guildID,string"`
	Name        string `json:"name"`
	Position    int    `json:"position"`
	Permissions uint64 `json:"permissions,string"`
	IsEveryone  bool   `json:"isEveryone"`
}

type Member struct {
	GuildID  int64   `json:"guildID,string"`
	UserID   int64   `json:"userID,string"`
	RoleIDs  []int64 `json:"roleIDs"`
	JoinedAt int64   `json:"joinedAt"`
}

type Message struct {
	ID        int64  `json:"id,string"`
	ChannelID int64  `json:"channelID,string"`
	GuildID   int64  `json:"guildID,string,omitempty"`
	Author    User   `json:"author"`
	Content   string `json:"content"`
	Edited    bool   `json:"edited"`
}

// GuildSnapshot is the full guild payload sent in GUILD_CREATE dispatches.
type GuildSnapshot struct {
	Guild
	Channels []Channel `json:"channels"`
	Roles    []Role    `json:"roles"`
	Members  []Member  `json:"members"`
}

// UnavailableGuild is the stub form listed in READY before the
// GUILD_CREATE snapshots arrive.
type UnavailableGuild struct {
	ID          int64 `json:"id,string"`
	Unavailable bool  `json:"unavailable"`
}
