package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"guildchat-backend/internal/apperrors"
	"guildchat-backend/internal/bus"
	"guildchat-backend/internal/gateway"
	"guildchat-backend/internal/models"
	"guildchat-backend/internal/permissions"
	"guildchat-backend/internal/snowflake"
	"guildchat-backend/internal/store"
)

func CreateGuild(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	type CreateGuildRequest struct {
		Name string `json:"name" validate:"required,min=1,max=64"`
	}

	var request CreateGuildRequest
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

	guildID, err := snowflake.Generate()
	if err != nil {
		sugar.Error(err)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	guild := models.Guild{
		ID:      guildID,
		OwnerID: userID,
		Name:    request.Name,
	}

	err = store.CreateGuild(r.Context(), guild, time.Now().Unix())
	if err != nil {
		respondError(w, err)
		return
	}

	// the owner's live sessions learn about the new guild on their
	// user channel: the membership event makes them subscribe, the
	// snapshot fills their state
	member := models.Member{GuildID: guildID, UserID: userID, JoinedAt: time.Now().Unix()}
	publishErr := bus.Publish(bus.UserChannel(userID), gateway.EventGuildMemberAdd, member,
		&bus.Target{GuildID: snowflake.Format(guildID)})
	if publishErr != nil {
		sugar.Error(publishErr)
	}

	snapshot, err := store.GuildSnapshot(r.Context(), guildID)
	if err == nil {
		publishErr = bus.Publish(bus.UserChannel(userID), gateway.EventGuildCreate, snapshot,
			&bus.Target{GuildID: snowflake.Format(guildID)})
		if publishErr != nil {
			sugar.Error(publishErr)
		}
	}

	w.WriteHeader(http.StatusCreated)
	respondJson(w, guild)
}

func GetGuild(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	guildID, err := urlID(r, "guildID")
	if err != nil {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	// non-members get the same 404 as a guild that doesn't exist
	member, err := store.IsMember(r.Context(), guildID, userID)
	if err != nil {
		respondError(w, err)
		return
	}
	if !member {
		respondError(w, apperrors.ErrNotFound)
		return
	}

	guild, err := store.Guild(r.Context(), guildID)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJson(w, guild)
}

func UpdateGuild(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	guildID, err := urlID(r, "guildID")
	if err != nil {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	type UpdateGuildRequest struct {
		Name string `json:"name" validate:"required,min=1,max=64"`
	}

	var request UpdateGuildRequest
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

	err = resolver.Require(r.Context(), userID, guildID, permissions.ManageGuild)
	if err != nil {
		respondError(w, err)
		return
	}

	guild, err := store.Guild(r.Context(), guildID)
	if err != nil {
		respondError(w, err)
		return
	}
	guild.Name = request.Name

	err = store.UpdateGuild(r.Context(), guild)
	if err != nil {
		respondError(w, err)
		return
	}

	publishErr := bus.Publish(bus.GuildChannel(guildID), gateway.EventGuildUpdate, guild,
		&bus.Target{GuildID: snowflake.Format(guildID)})
	if publishErr != nil {
		sugar.Error(publishErr)
	}

	respondJson(w, guild)
}

func DeleteGuild(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	guildID, err := urlID(r, "guildID")
	if err != nil {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	guild, err := store.Guild(r.Context(), guildID)
	if err != nil {
		respondError(w, err)
		return
	}

	// only the owner can delete a guild, MANAGE_GUILD isn't enough
	if guild.OwnerID != userID {
		member, err := store.IsMember(r.Context(), guildID, userID)
		if err != nil {
			respondError(w, err)
			return
		}
		if !member {
			respondError(w, apperrors.ErrNotFound)
		} else {
			respondError(w, apperrors.ErrMissingPermissions)
		}
		return
	}

	err = store.DeleteGuild(r.Context(), guildID)
	if err != nil {
		respondError(w, err)
		return
	}

	publishErr := bus.Publish(bus.GuildChannel(guildID), gateway.EventGuildDelete,
		map[string]string{"id": snowflake.Format(guildID)},
		&bus.Target{GuildID: snowflake.Format(guildID)})
	if publishErr != nil {
		sugar.Error(publishErr)
	}

	w.WriteHeader(http.StatusNoContent)
}
