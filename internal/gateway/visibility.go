package gateway

import (
	"context"
	"errors"
	"slices"
	"strings"

	"guildchat-backend/internal/apperrors"
	"guildchat-backend/internal/bus"
	"guildchat-backend/internal/permissions"
	"guildchat-backend/internal/snowflake"
	"guildchat-backend/internal/store"
)

// visible decides whether an envelope from the bus may be appended to
// a session. Permission denials are not errors here, the event is
// silently filtered.
func visible(ctx context.Context, userID int64, envelope *bus.Envelope) (bool, error) {
	if envelope.Excludes(userID) {
		return false, nil
	}

	var guildID, channelID int64
	var err error
	if envelope.Target != nil {
		if envelope.Target.GuildID != "" {
			guildID, err = snowflake.ParseString(envelope.Target.GuildID)
			if err != nil {
				return false, err
			}
		}
		if envelope.Target.ChannelID != "" {
			channelID, err = snowflake.ParseString(envelope.Target.ChannelID)
			if err != nil {
				return false, err
			}
		}
	}

	switch {
	case envelope.Event == EventUserUpdate:
		// arrives on user:{id}, only ever the subject's own channel
		return true, nil

	case envelope.Event == EventPresenceUpdate:
		// arrives on every guild the subject is in; the recipient is
		// subscribed to a guild channel only while a member, which is
		// exactly the shared-guild condition
		if guildID == 0 {
			return true, nil
		}
		return isMember(ctx, guildID, userID)

	case strings.HasPrefix(envelope.Event, "MESSAGE_") || envelope.Event == EventTypingStart:
		if guildID == 0 {
			// DM channel, the recipient set is the whole audience
			if channelID == 0 {
				return false, nil
			}
			recipients, err := store.DmRecipients(ctx, channelID)
			if err != nil {
				return false, err
			}
			return slices.Contains(recipients, userID), nil
		}

		member, err := isMember(ctx, guildID, userID)
		if err != nil || !member {
			return false, err
		}

		resolved, err := resolver.ResolveChannel(ctx, userID, guildID, channelID)
		if errors.Is(err, apperrors.ErrNotFound) {
			return false, nil
		} else if err != nil {
			return false, err
		}
		return permissions.Has(resolved, permissions.ViewChannel), nil

	case guildID != 0:
		// GUILD_*, CHANNEL_*, ROLE_*, MEMBER_* all require membership
		return isMember(ctx, guildID, userID)
	}

	// an envelope with no target on a channel the session subscribed
	// to (its own user channel, broadcast) passes through
	return true, nil
}

func isMember(ctx context.Context, guildID int64, userID int64) (bool, error) {
	member, err := store.IsMember(ctx, guildID, userID)
	if err != nil {
		return false, err
	}
	return member, nil
}
