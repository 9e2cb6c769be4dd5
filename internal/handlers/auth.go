package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"

	"guildchat-backend/internal/apperrors"
	"guildchat-backend/internal/bus"
	"guildchat-backend/internal/gateway"
	"guildchat-backend/internal/models"
	"guildchat-backend/internal/password"
	"guildchat-backend/internal/session"
	"guildchat-backend/internal/snowflake"
	"guildchat-backend/internal/store"
	"guildchat-backend/internal/token"
	"guildchat-backend/internal/validator"
)

func Register(w http.ResponseWriter, r *http.Request) {
	var registerErrors = make(map[string]string)

	type Registration struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	var registration Registration
	err := json.NewDecoder(r.Body).Decode(&registration)
	if err != nil {
		sugar.Debug(err)
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	if err := validator.Username(registration.Username); err != nil {
		registerErrors["username"] = err.Error()
	}
	if err := validator.Password(registration.Password); err != nil {
		registerErrors["password"] = err.Error()
	}
	if len(registerErrors) > 0 {
		fieldErrors(w, registerErrors)
		return
	}

	userID, err := snowflake.Generate()
	if err != nil {
		sugar.Error(err)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	passwordHash, err := password.Hash(registration.Password)
	if err != nil {
		sugar.Error(err)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	// pick a free discriminator so the (username, discriminator) pair
	// stays globally unique
	var discriminator string
	for range 10 {
		candidate := fmt.Sprintf("%04d", rand.IntN(10000))
		taken, err := store.DiscriminatorTaken(r.Context(), registration.Username, candidate)
		if err != nil {
			respondError(w, err)
			return
		}
		if !taken {
			discriminator = candidate
			break
		}
	}
	if discriminator == "" {
		respondError(w, apperrors.ErrAlreadyExists)
		return
	}

	user := models.User{
		ID:            userID,
		Username:      registration.Username,
		Discriminator: discriminator,
	}

	err = store.CreateUser(r.Context(), user, passwordHash)
	if err != nil {
		respondError(w, err)
		return
	}

	sugar.Debugf("Registered user ID [%d] as %s#%s", userID, user.Username, user.Discriminator)

	w.WriteHeader(http.StatusCreated)
	respondJson(w, user)
}

func Login(w http.ResponseWriter, r *http.Request) {
	type Login struct {
		Username      string `json:"username"`
		Discriminator string `json:"discriminator"`
		Password      string `json:"password"`
	}

	var login Login
	err := json.NewDecoder(r.Body).Decode(&login)
	if err != nil {
		sugar.Debug(err)
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	user, passwordHash, err := store.UserByName(r.Context(), login.Username, login.Discriminator)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			// same answer as a wrong password
			http.Error(w, "", http.StatusUnauthorized)
		} else {
			respondError(w, err)
		}
		return
	}

	matches, err := password.Verify(login.Password, string(passwordHash))
	if err != nil {
		sugar.Error(err)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}
	if !matches {
		sugar.Debugf("Failed login attempt for user ID [%d]", user.ID)
		http.Error(w, "", http.StatusUnauthorized)
		return
	}

	pair, err := token.CreatePair(user.ID)
	if err != nil {
		sugar.Error(err)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	respondJson(w, pair)
}

// Refresh exchanges a refresh token for a fresh pair.
func Refresh(w http.ResponseWriter, r *http.Request) {
	type RefreshRequest struct {
		RefreshToken string `json:"refreshToken"`
	}

	var request RefreshRequest
	err := json.NewDecoder(r.Body).Decode(&request)
	if err != nil {
		sugar.Debug(err)
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	userID, err := token.VerifyRefresh(request.RefreshToken)
	if err != nil {
		respondError(w, err)
		return
	}

	exists, err := store.UserExists(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}
	if !exists {
		http.Error(w, "", http.StatusUnauthorized)
		return
	}

	pair, err := token.CreatePair(userID)
	if err != nil {
		sugar.Error(err)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}

	respondJson(w, pair)
}

// Logout invalidates every gateway session of the user.
func Logout(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	err := session.InvalidateAllForUser(userID)
	if err != nil {
		respondError(w, err)
		return
	}

	sugar.Debugf("User ID [%d] logged out everywhere", userID)

	w.WriteHeader(http.StatusNoContent)
}

func GetSelf(w http.ResponseWriter, r *http.Request) {
	user, err := store.User(r.Context(), requestUserID(r))
	if err != nil {
		respondError(w, err)
		return
	}

	respondJson(w, user)
}

// UpdateSelf is a stub surface for profile changes; it publishes
// USER_UPDATE to the subject's own sessions only.
func UpdateSelf(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	user, err := store.User(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}

	err = bus.Publish(bus.UserChannel(userID), gateway.EventUserUpdate, user, nil)
	if err != nil {
		sugar.Error(err)
	}

	respondJson(w, user)
}
