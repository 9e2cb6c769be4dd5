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

func CreateRole(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	guildID, err := urlID(r, "guildID")
	if err != nil {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	type CreateRoleRequest struct {
		Name        string `json:"name" validate:"required,min=1,max=32"`
		Position    int    `json:"position" validate:"min=1"`
		Permissions string `json:"permissions"`
	}

	var request CreateRoleRequest
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

	err = resolver.Require(r.Context(), userID, guildID, permissions.ManageRoles)
	if err != nil {
		respondError(w, err)
		return
	}

	var permissionBits uint64
	if request.Permissions != "" {
		permissionBits, err = permissions.Parse(request.Permissions)
		if err != nil {
			http.Error(w, "", http.StatusBadRequest)
			return
		}
	}

	roleID, err := snowflake.Generate()
	if err != nil {
		sugar.Error(err)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	role := models.Role{
		ID:          roleID,
		GuildID:     guildID,
		Name:        request.Name,
		Position:    request.Position,
		Permissions: permissionBits,
	}

	// a member may only create roles below their own highest; the
	// assignment check enforces the same bound, so reuse it
	canPlace, err := resolver.CanAssignRole(r.Context(), userID, role)
	if err != nil {
		respondError(w, err)
		return
	}
	if !canPlace {
		respondError(w, apperrors.ErrMissingPermissions)
		return
	}

	err = store.CreateRole(r.Context(), role)
	if err != nil {
		respondError(w, err)
		return
	}

	publishErr := bus.Publish(bus.GuildChannel(guildID), gateway.EventGuildRoleCreate, role,
		&bus.Target{GuildID: snowflake.Format(guildID)})
	if publishErr != nil {
		sugar.Error(publishErr)
	}

	w.WriteHeader(http.StatusCreated)
	respondJson(w, role)
}

func AssignRole(w http.ResponseWriter, r *http.Request) {
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
	roleID, err := urlID(r, "roleID")
	if err != nil {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	role, err := store.Role(r.Context(), roleID)
	if err != nil || role.GuildID != guildID {
		respondError(w, apperrors.ErrNotFound)
		return
	}

	canAssign, err := resolver.CanAssignRole(r.Context(), actorID, role)
	if err != nil {
		respondError(w, err)
		return
	}
	if !canAssign {
		respondError(w, apperrors.ErrMissingPermissions)
		return
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

	err = store.AssignRole(r.Context(), guildID, targetID, roleID)
	if err != nil {
		respondError(w, err)
		return
	}

	publishMemberUpdate(r, guildID, targetID)

	w.WriteHeader(http.StatusNoContent)
}

func UnassignRole(w http.ResponseWriter, r *http.Request) {
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
	roleID, err := urlID(r, "roleID")
	if err != nil {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	role, err := store.Role(r.Context(), roleID)
	if err != nil || role.GuildID != guildID {
		respondError(w, apperrors.ErrNotFound)
		return
	}

	canAssign, err := resolver.CanAssignRole(r.Context(), actorID, role)
	if err != nil {
		respondError(w, err)
		return
	}
	if !canAssign {
		respondError(w, apperrors.ErrMissingPermissions)
		return
	}

	err = store.UnassignRole(r.Context(), guildID, targetID, roleID)
	if err != nil {
		respondError(w, err)
		return
	}

	publishMemberUpdate(r, guildID, targetID)

	w.WriteHeader(http.StatusNoContent)
}

func publishMemberUpdate(r *http.Request, guildID int64, userID int64) {
	member, err := store.Member(r.Context(), guildID, userID)
	if err != nil {
		sugar.Error(err)
		return
	}

	publishErr := bus.Publish(bus.GuildChannel(guildID), gateway.EventGuildMemberUpdate, member,
		&bus.Target{GuildID: snowflake.Format(guildID)})
	if publishErr != nil {
		sugar.Error(publishErr)
	}
}
