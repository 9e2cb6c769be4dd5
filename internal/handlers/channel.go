package handlers

import (
	"encoding/json"
	"net/http"

	"guildchat-backend/internal/apperrors"
	"guildchat-backend/internal/bus"
	"guildchat-backend/internal/gateway"
	"guildchat-backend/internal/models"
	"guildchat-backend/internal/permissions"
	"guildchat-backend/internal/snowflake"
	"guildchat-backend/internal/store"
)

func GetGuildChannels(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	guildID, err := urlID(r, "guildID")
	if err != nil {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	member, err := store.IsMember(r.Context(), guildID, userID)
	if err != nil {
		respondError(w, err)
		return
	}
	if !member {
		respondError(w, apperrors.ErrNotFound)
		return
	}

	channels, err := store.GuildChannels(r.Context(), guildID)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJson(w, channels)
}

func CreateChannel(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	guildID, err := urlID(r, "guildID")
	if err != nil {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	type CreateChannelRequest struct {
		Name     string `json:"name" validate:"required,min=1,max=32"`
		Type     string `json:"type"`
		ParentID string `json:"parentID"`
	}

	var request CreateChannelRequest
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

	if request.Type == "" {
		request.Type = models.ChannelTypeText
	}
	if request.Type != models.ChannelTypeText && request.Type != models.ChannelTypeCategory {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	err = resolver.Require(r.Context(), userID, guildID, permissions.ManageChannels)
	if err != nil {
		respondError(w, err)
		return
	}

	channel := models.Channel{
		GuildID: guildID,
		Type:    request.Type,
		Name:    request.Name,
	}

	// categories have no parent
	if request.ParentID != "" && request.Type == models.ChannelTypeText {
		parentID, err := snowflake.ParseString(request.ParentID)
		if err != nil {
			http.Error(w, "", http.StatusBadRequest)
			return
		}
		parent, err := store.Channel(r.Context(), parentID)
		if err != nil || parent.GuildID != guildID || parent.Type != models.ChannelTypeCategory {
			http.Error(w, "", http.StatusBadRequest)
			return
		}
		channel.ParentID = parentID
	}

	channel.ID, err = snowflake.Generate()
	if err != nil {
		sugar.Error(err)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	err = store.CreateChannel(r.Context(), channel)
	if err != nil {
		respondError(w, err)
		return
	}

	publishErr := bus.Publish(bus.GuildChannel(guildID), gateway.EventChannelCreate, channel,
		&bus.Target{GuildID: snowflake.Format(guildID), ChannelID: snowflake.Format(channel.ID)})
	if publishErr != nil {
		sugar.Error(publishErr)
	}

	w.WriteHeader(http.StatusCreated)
	respondJson(w, channel)
}

func UpdateChannel(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	channelID, err := urlID(r, "channelID")
	if err != nil {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	type UpdateChannelRequest struct {
		Name string `json:"name" validate:"required,min=1,max=32"`
	}

	var request UpdateChannelRequest
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

	channel, err := store.Channel(r.Context(), channelID)
	if err != nil {
		respondError(w, err)
		return
	}
	if channel.Type == models.ChannelTypeDm {
		respondError(w, apperrors.ErrMissingPermissions)
		return
	}

	err = resolver.RequireChannel(r.Context(), userID, channel.GuildID, channelID, permissions.ManageChannels)
	if err != nil {
		respondError(w, err)
		return
	}

	channel.Name = request.Name
	err = store.UpdateChannel(r.Context(), channel)
	if err != nil {
		respondError(w, err)
		return
	}

	publishErr := bus.Publish(bus.GuildChannel(channel.GuildID), gateway.EventChannelUpdate, channel,
		&bus.Target{GuildID: snowflake.Format(channel.GuildID), ChannelID: snowflake.Format(channelID)})
	if publishErr != nil {
		sugar.Error(publishErr)
	}

	respondJson(w, channel)
}

func DeleteChannel(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	channelID, err := urlID(r, "channelID")
	if err != nil {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	channel, err := store.Channel(r.Context(), channelID)
	if err != nil {
		respondError(w, err)
		return
	}
	if channel.Type == models.ChannelTypeDm {
		respondError(w, apperrors.ErrMissingPermissions)
		return
	}

	err = resolver.RequireChannel(r.Context(), userID, channel.GuildID, channelID, permissions.ManageChannels)
	if err != nil {
		respondError(w, err)
		return
	}

	err = store.DeleteChannel(r.Context(), channelID)
	if err != nil {
		respondError(w, err)
		return
	}

	publishErr := bus.Publish(bus.GuildChannel(channel.GuildID), gateway.EventChannelDelete,
		map[string]string{
			"id":      snowflake.Format(channelID),
			"guildID": snowflake.Format(channel.GuildID),
		},
		&bus.Target{GuildID: snowflake.Format(channel.GuildID), ChannelID: snowflake.Format(channelID)})
	if publishErr != nil {
		sugar.Error(publishErr)
	}

	w.WriteHeader(http.StatusNoContent)
}

// OpenDmChannel creates (or returns) a direct message channel between
// the requester and one recipient.
func OpenDmChannel(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	type OpenDmRequest struct {
		RecipientID string `json:"recipientID" validate:"required"`
	}

	var request OpenDmRequest
	err := json.NewDecoder(r.Body).Decode(&request)
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

	recipientID, err := snowflake.ParseString(request.RecipientID)
	if err != nil || recipientID == userID {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	exists, err := store.UserExists(r.Context(), recipientID)
	if err != nil {
		respondError(w, err)
		return
	}
	if !exists {
		respondError(w, apperrors.ErrNotFound)
		return
	}

	// reuse an existing DM between the two if one is already open
	ownDms, err := store.DmChannelsForUser(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}
	for i := range ownDms {
		recipients, err := store.DmRecipients(r.Context(), ownDms[i])
		if err != nil {
			respondError(w, err)
			return
		}
		if len(recipients) == 2 && (recipients[0] == recipientID || recipients[1] == recipientID) {
			channel, err := store.Channel(r.Context(), ownDms[i])
			if err != nil {
				respondError(w, err)
				return
			}
			respondJson(w, channel)
			return
		}
	}

	channelID, err := snowflake.Generate()
	if err != nil {
		sugar.Error(err)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	channel := models.Channel{
		ID:   channelID,
		Type: models.ChannelTypeDm,
		Name: "",
	}

	err = store.CreateDmChannel(r.Context(), channel, []int64{userID, recipientID})
	if err != nil {
		respondError(w, err)
		return
	}

	// both recipients' live sessions subscribe off their user channel
	for _, recipient := range []int64{userID, recipientID} {
		publishErr := bus.Publish(bus.UserChannel(recipient), gateway.EventChannelCreate, channel,
			&bus.Target{ChannelID: snowflake.Format(channelID)})
		if publishErr != nil {
			sugar.Error(publishErr)
		}
	}

	w.WriteHeader(http.StatusCreated)
	respondJson(w, channel)
}
