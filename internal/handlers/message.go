package handlers

import (
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"time"

	"guildchat-backend/internal/apperrors"
	"guildchat-backend/internal/bus"
	"guildchat-backend/internal/gateway"
	"guildchat-backend/internal/models"
	"guildchat-backend/internal/permissions"
	"guildchat-backend/internal/snowflake"
	"guildchat-backend/internal/store"
)

// channelAccess checks that the user may see the channel and, for
// sends, write to it. A channel the user cannot see answers 404.
func channelAccess(r *http.Request, userID int64, channelID int64, write bool) (models.Channel, error) {
	channel, err := store.Channel(r.Context(), channelID)
	if err != nil {
		return models.Channel{}, err
	}

	if channel.Type == models.ChannelTypeDm {
		recipients, err := store.DmRecipients(r.Context(), channelID)
		if err != nil {
			return models.Channel{}, err
		}
		if !slices.Contains(recipients, userID) {
			return models.Channel{}, apperrors.ErrNotFound
		}
		return channel, nil
	}

	resolved, err := resolver.ResolveChannel(r.Context(), userID, channel.GuildID, channelID)
	if err != nil {
		return models.Channel{}, err
	}
	if !permissions.Has(resolved, permissions.ViewChannel) {
		// invisible channels don't exist as far as the caller knows
		return models.Channel{}, apperrors.ErrNotFound
	}
	if write && !permissions.Has(resolved, permissions.SendMessages) {
		return models.Channel{}, apperrors.ErrMissingPermissions
	}

	return channel, nil
}

func messageTarget(channel models.Channel) *bus.Target {
	target := &bus.Target{ChannelID: snowflake.Format(channel.ID)}
	if channel.GuildID != 0 {
		target.GuildID = snowflake.Format(channel.GuildID)
	}
	return target
}

func CreateMessage(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	channelID, err := urlID(r, "channelID")
	if err != nil {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	type CreateMessageRequest struct {
		Content string `json:"content" validate:"required,min=1,max=4000"`
	}

	var request CreateMessageRequest
	err = json.NewDecoder(r.Body).Decode(&request)
	if err != nil {
		sugar.Debug(err)
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	err = validate.Struct(request)
	if err != nil {
		sugar.Debug(err)
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	channel, err := channelAccess(r, userID, channelID, true)
	if err != nil {
		respondError(w, err)
		return
	}

	if channel.Type == models.ChannelTypeCategory {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	author, err := store.User(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}

	messageID, err := snowflake.Generate()
	if err != nil {
		sugar.Error(err)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	message := models.Message{
		ID:        messageID,
		ChannelID: channelID,
		GuildID:   channel.GuildID,
		Author:    author,
		Content:   request.Content,
	}

	err = store.CreateMessage(r.Context(), message)
	if err != nil {
		respondError(w, err)
		return
	}

	// the row is committed; from here the dispatch is fire-and-forget
	publishErr := bus.Publish(bus.ChannelChannel(channelID), gateway.EventMessageCreate, message, messageTarget(channel))
	if publishErr != nil {
		sugar.Error(publishErr)
	}

	w.WriteHeader(http.StatusCreated)
	respondJson(w, message)
}

func GetMessages(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	channelID, err := urlID(r, "channelID")
	if err != nil {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	_, err = channelAccess(r, userID, channelID, false)
	if err != nil {
		respondError(w, err)
		return
	}

	var before int64
	if beforeParam := r.URL.Query().Get("before"); beforeParam != "" {
		before, err = snowflake.ParseString(beforeParam)
		if err != nil {
			http.Error(w, "", http.StatusBadRequest)
			return
		}
	}

	limit := 50
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		limit, err = strconv.Atoi(limitParam)
		if err != nil || limit < 1 || limit > 100 {
			http.Error(w, "", http.StatusBadRequest)
			return
		}
	}

	messages, err := store.Messages(r.Context(), channelID, before, limit)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJson(w, messages)
}

func UpdateMessage(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	channelID, err := urlID(r, "channelID")
	if err != nil {
		http.Error(w, "", http.StatusBadRequest)
		return
	}
	messageID, err := urlID(r, "messageID")
	if err != nil {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	type UpdateMessageRequest struct {
		Content string `json:"content" validate:"required,min=1,max=4000"`
	}

	var request UpdateMessageRequest
	err = json.NewDecoder(r.Body).Decode(&request)
	if err != nil {
		sugar.Debug(err)
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	err = validate.Struct(request)
	if err != nil {
		sugar.Debug(err)
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	channel, err := channelAccess(r, userID, channelID, false)
	if err != nil {
		respondError(w, err)
		return
	}

	message, err := store.Message(r.Context(), messageID)
	if err != nil || message.ChannelID != channelID {
		respondError(w, apperrors.ErrNotFound)
		return
	}

	// only the author can edit their message
	if message.Author.ID != userID {
		respondError(w, apperrors.ErrMissingPermissions)
		return
	}

	err = store.UpdateMessage(r.Context(), messageID, request.Content)
	if err != nil {
		respondError(w, err)
		return
	}

	message.Content = request.Content
	message.Edited = true
	message.GuildID = channel.GuildID

	publishErr := bus.Publish(bus.ChannelChannel(channelID), gateway.EventMessageUpdate, message, messageTarget(channel))
	if publishErr != nil {
		sugar.Error(publishErr)
	}

	respondJson(w, message)
}

func DeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	channelID, err := urlID(r, "channelID")
	if err != nil {
		http.Error(w, "", http.StatusBadRequest)
		return
	}
	messageID, err := urlID(r, "messageID")
	if err != nil {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	channel, err := channelAccess(r, userID, channelID, false)
	if err != nil {
		respondError(w, err)
		return
	}

	message, err := store.Message(r.Context(), messageID)
	if err != nil || message.ChannelID != channelID {
		respondError(w, apperrors.ErrNotFound)
		return
	}

	// the author may delete their own message, moderators need
	// MANAGE_MESSAGES
	if message.Author.ID != userID {
		if channel.Type == models.ChannelTypeDm {
			respondError(w, apperrors.ErrMissingPermissions)
			return
		}
		err = resolver.RequireChannel(r.Context(), userID, channel.GuildID, channelID, permissions.ManageMessages)
		if err != nil {
			respondError(w, err)
			return
		}
	}

	err = store.DeleteMessage(r.Context(), messageID)
	if err != nil {
		respondError(w, err)
		return
	}

	deleted := map[string]string{
		"id":        snowflake.Format(messageID),
		"channelID": snowflake.Format(channelID),
	}
	if channel.GuildID != 0 {
		deleted["guildID"] = snowflake.Format(channel.GuildID)
	}

	publishErr := bus.Publish(bus.ChannelChannel(channelID), gateway.EventMessageDelete, deleted, messageTarget(channel))
	if publishErr != nil {
		sugar.Error(publishErr)
	}

	w.WriteHeader(http.StatusNoContent)
}

// TriggerTyping publishes a typing indicator; clients display it for
// roughly ten seconds on their own.
func TriggerTyping(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	channelID, err := urlID(r, "channelID")
	if err != nil {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	// typing requires send permission, watching a read-only channel
	// shouldn't show ghosts
	channel, err := channelAccess(r, userID, channelID, true)
	if err != nil {
		respondError(w, err)
		return
	}

	typing := map[string]any{
		"userID":    snowflake.Format(userID),
		"channelID": snowflake.Format(channelID),
		"timestamp": time.Now().Unix(),
	}
	if channel.GuildID != 0 {
		typing["guildID"] = snowflake.Format(channel.GuildID)
	}

	publishErr := bus.Publish(bus.ChannelChannel(channelID), gateway.EventTypingStart, typing, messageTarget(channel))
	if publishErr != nil {
		sugar.Error(publishErr)
	}

	w.WriteHeader(http.StatusNoContent)
}
