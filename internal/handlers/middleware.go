package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"guildchat-backend/internal/apperrors"
	"guildchat-backend/internal/snowflake"
	"guildchat-backend/internal/token"

	"github.com/go-chi/chi/v5"
)

type UserIDKeyType struct{}

// UserVerifier authenticates the request from the Authorization
// header and passes the user ID down in the context.
func UserVerifier(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization := r.Header.Get("Authorization")
		if authorization == "" {
			http.Error(w, "No authorization header was provided", http.StatusUnauthorized)
			return
		}

		tokenString, found := strings.CutPrefix(authorization, "Bearer ")
		if !found {
			http.Error(w, "Authorization header is in improper format", http.StatusUnauthorized)
			return
		}

		userID, err := token.VerifyAccess(tokenString)
		if err != nil {
			sugar.Debug(err)
			http.Error(w, "", apperrors.HttpStatus(err))
			return
		}

		ctx := context.WithValue(r.Context(), UserIDKeyType{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestUserID(r *http.Request) int64 {
	return r.Context().Value(UserIDKeyType{}).(int64)
}

// urlID parses a snowflake out of a chi URL parameter.
func urlID(r *http.Request, name string) (int64, error) {
	return snowflake.ParseString(chi.URLParam(r, name))
}

// respondError maps a service error onto its status. Internal errors
// are logged, expected ones only debugged.
func respondError(w http.ResponseWriter, err error) {
	status := apperrors.HttpStatus(err)
	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		sugar.Error(err)
	} else {
		sugar.Debug(err)
	}
	http.Error(w, "", status)
}

func respondJson(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(value)
	if err != nil {
		sugar.Error(err)
	}
}

// fieldErrors sends back 400 with the per-field validation codes.
func fieldErrors(w http.ResponseWriter, errs map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	encodeErr := json.NewEncoder(w).Encode(errs)
	if encodeErr != nil {
		sugar.Error(encodeErr)
	}
}
