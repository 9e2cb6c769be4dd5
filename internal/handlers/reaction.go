package handlers

import (
	"net/http"

	"guildchat-backend/internal/apperrors"
	"guildchat-backend/internal/bus"
	"guildchat-backend/internal/gateway"
	"guildchat-backend/internal/models"
	"guildchat-backend/internal/permissions"
	"guildchat-backend/internal/snowflake"
	"guildchat-backend/internal/store"

	"github.com/go-chi/chi/v5"
)

// reactionRequest resolves the channel, the message and the emoji out
// of a reaction route, with the usual invisible-means-404 rule.
func reactionRequest(r *http.Request, userID int64) (models.Channel, models.Message, string, error) {
	channelID, err := urlID(r, "channelID")
	if err != nil {
		return models.Channel{}, models.Message{}, "", apperrors.ErrNotFound
	}
	messageID, err := urlID(r, "messageID")
	if err != nil {
		return models.Channel{}, models.Message{}, "", apperrors.ErrNotFound
	}

	emoji := chi.URLParam(r, "emoji")
	if emoji == "" || len(emoji) > 32 {
		return models.Channel{}, models.Message{}, "", apperrors.ErrDecodeError
	}

	channel, err := channelAccess(r, userID, channelID, false)
	if err != nil {
		return models.Channel{}, models.Message{}, "", err
	}

	message, err := store.Message(r.Context(), messageID)
	if err != nil || message.ChannelID != channelID {
		return models.Channel{}, models.Message{}, "", apperrors.ErrNotFound
	}

	return channel, message, emoji, nil
}

func reactionPayload(channel models.Channel, messageID int64, userID int64, emoji string) map[string]string {
	payload := map[string]string{
		"userID":    snowflake.Format(userID),
		"channelID": snowflake.Format(channel.ID),
		"messageID": snowflake.Format(messageID),
		"emoji":     emoji,
	}
	if channel.GuildID != 0 {
		payload["guildID"] = snowflake.Format(channel.GuildID)
	}
	return payload
}

func AddReaction(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	channel, message, emoji, err := reactionRequest(r, userID)
	if err != nil {
		respondError(w, err)
		return
	}

	if channel.GuildID != 0 {
		err = resolver.RequireChannel(r.Context(), userID, channel.GuildID, channel.ID, permissions.AddReactions)
		if err != nil {
			respondError(w, err)
			return
		}
	}

	// adding the same reaction twice is a no-op, not an error
	exists, err := store.ReactionExists(r.Context(), message.ID, userID, emoji)
	if err != nil {
		respondError(w, err)
		return
	}
	if exists {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	err = store.AddReaction(r.Context(), message.ID, userID, emoji)
	if err != nil {
		respondError(w, err)
		return
	}

	publishErr := bus.Publish(bus.ChannelChannel(channel.ID), gateway.EventMessageReactionAdd,
		reactionPayload(channel, message.ID, userID, emoji), messageTarget(channel))
	if publishErr != nil {
		sugar.Error(publishErr)
	}

	w.WriteHeader(http.StatusNoContent)
}

// RemoveReaction removes the caller's own reaction only.
func RemoveReaction(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	channel, message, emoji, err := reactionRequest(r, userID)
	if err != nil {
		respondError(w, err)
		return
	}

	removed, err := store.RemoveReaction(r.Context(), message.ID, userID, emoji)
	if err != nil {
		respondError(w, err)
		return
	}
	if !removed {
		respondError(w, apperrors.ErrNotFound)
		return
	}

	publishErr := bus.Publish(bus.ChannelChannel(channel.ID), gateway.EventMessageReactionRemove,
		reactionPayload(channel, message.ID, userID, emoji), messageTarget(channel))
	if publishErr != nil {
		sugar.Error(publishErr)
	}

	w.WriteHeader(http.StatusNoContent)
}
