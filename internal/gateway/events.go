package gateway

// Dispatch event names, the t field of op 0 frames.
const (
	EventReady   = "READY"
	EventResumed = "RESUMED"

	EventGuildCreate = "GUILD_CREATE"
	EventGuildUpdate = "GUILD_UPDATE"
	EventGuildDelete = "GUILD_DELETE"

	EventChannelCreate = "CHANNEL_CREATE"
	EventChannelUpdate = "CHANNEL_UPDATE"
	EventChannelDelete = "CHANNEL_DELETE"

	EventMessageCreate = "MESSAGE_CREATE"
	EventMessageUpdate = "MESSAGE_UPDATE"
	EventMessageDelete = "MESSAGE_DELETE"

	EventMessageReactionAdd    = "MESSAGE_REACTION_ADD"
	EventMessageReactionRemove = "MESSAGE_REACTION_REMOVE"

	EventGuildMemberAdd    = "GUILD_MEMBER_ADD"
	EventGuildMemberUpdate = "GUILD_MEMBER_UPDATE"
	EventGuildMemberRemove = "GUILD_MEMBER_REMOVE"

	EventGuildRoleCreate = "GUILD_ROLE_CREATE"
	EventGuildRoleUpdate = "GUILD_ROLE_UPDATE"
	EventGuildRoleDelete = "GUILD_ROLE_DELETE"

	EventPresenceUpdate = "PRESENCE_UPDATE"
	EventTypingStart    = "TYPING_START"

	EventUserUpdate = "USER_UPDATE"
)
