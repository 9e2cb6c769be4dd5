package handlers

import (
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

func GetMembers(w http.ResponseWriter, r *http.Request) {
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

	members, err := store.Members(r.Context(), guildID)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJson(w, members)
}

func JoinGuild(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	guildID, err := urlID(r, "guildID")
	if err != nil {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	_, err = store.Guild(r.Context(), guildID)
	if err != nil {
		respondError(w, err)
		return
	}

	already, err := store.IsMember(r.Context(), guildID, userID)
	if err != nil {
		respondError(w, err)
		return
	}
	if already {
		respondError(w, apperrors.ErrAlreadyExists)
		return
	}

	joinedAt := time.Now().Unix()
	err = store.AddMember(r.Context(), guildID, userID, joinedAt)
	if err != nil {
		respondError(w, err)
		return
	}

	member := models.Member{GuildID: guildID, UserID: userID, JoinedAt: joinedAt}
	target := &bus.Target{GuildID: snowflake.Format(guildID)}

	// guild members see the join; the joiner's own sessions pick it up
	// on their user channel and subscribe to the guild
	publishErr := bus.Publish(bus.GuildChannel(guildID), gateway.EventGuildMemberAdd, member, target)
	if publishErr != nil {
		sugar.Error(publishErr)
	}
	publishErr = bus.Publish(bus.UserChannel(userID), gateway.EventGuildMemberAdd, member, target)
	if publishErr != nil {
		sugar.Error(publishErr)
	}

	snapshot, err := store.GuildSnapshot(r.Context(), guildID)
	if err == nil {
		publishErr = bus.Publish(bus.UserChannel(userID), gateway.EventGuildCreate, snapshot, target)
		if publishErr != nil {
			sugar.Error(publishErr)
		}
	}

	w.WriteHeader(http.StatusCreated)
	respondJson(w, member)
}

// RemoveMember covers both leaving (self) and kicking (others).
func RemoveMember(w http.ResponseWriter, r *http.Request) {
	actorID := requestUserID(r)

	guildID, err := urlID(r, "guildID")
	if err != nil {
		http.Error(w, "", http.StatusBadRequest)
		return
	}
	targetID, err := urlID(r, "userID")
	if err != nil {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	guild, err := store.Guild(r.Context(), guildID)
	if err != nil {
		respondError(w, err)
		return
	}

	// the owner can't leave their own guild, only delete it
	if targetID == guild.OwnerID {
		respondError(w, apperrors.ErrConflict)
		return
	}

	if targetID != actorID {
		err = resolver.Require(r.Context(), actorID, guildID, permissions.KickMembers)
		if err != nil {
			respondError(w, err)
			return
		}

		canManage, err := resolver.CanManageMember(r.Context(), guildID, actorID, targetID)
		if err != nil {
			respondError(w, err)
			return
		}
		if !canManage {
			respondError(w, apperrors.ErrMissingPermissions)
			return
		}
	}

	member, err := store.IsMember(r.Context(), guildID, targetID)
	if err != nil {
		respondError(w, err)
		return
	}
	if !member {
		respondError(w, apperrors.ErrNotFound)
		return
	}

	err = store.RemoveMember(r.Context(), guildID, targetID)
	if err != nil {
		respondError(w, err)
		return
	}

	removed := models.Member{GuildID: guildID, UserID: targetID}
	target := &bus.Target{GuildID: snowflake.Format(guildID)}

	publishErr := bus.Publish(bus.GuildChannel(guildID), gateway.EventGuildMemberRemove, removed, target)
	if publishErr != nil {
		sugar.Error(publishErr)
	}
	publishErr = bus.Publish(bus.UserChannel(targetID), gateway.EventGuildMemberRemove, removed, target)
	if publishErr != nil {
		sugar.Error(publishErr)
	}

	w.WriteHeader(http.StatusNoContent)
}
