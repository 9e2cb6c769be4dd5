package handlers

import (
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"guildchat-backend/internal/config"
	"guildchat-backend/internal/gateway"
	"guildchat-backend/internal/permissions"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	playgroundValidator "github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var sugar *zap.SugaredLogger
var db *sql.DB
var resolver *permissions.Resolver
var validate = playgroundValidator.New()

// Setup wires the router and blocks serving it.
func Setup(isHttps bool, cfg *config.Config, _sugar *zap.SugaredLogger, _db *sql.DB, _resolver *permissions.Resolver) error {
	sugar = _sugar
	db = _db
	resolver = _resolver

	r := chi.NewRouter()

	if cfg.PrintHttpRequests {
		r.Use(middleware.Logger)
	}

	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api", func(api chi.Router) {
		api.Route("/auth", func(r chi.Router) {
			r.Post("/register", Register)
			r.Post("/login", Login)
			r.Post("/refresh", Refresh)
			r.With(UserVerifier).Post("/logout", Logout)
		})

		api.Route("/users", func(r chi.Router) {
			r.Use(UserVerifier)
			r.Get("/me", GetSelf)
			r.Patch("/me", UpdateSelf)
			r.Post("/me/channels", OpenDmChannel)
		})

		api.Route("/guilds", func(r chi.Router) {
			r.Use(UserVerifier)
			r.Post("/", CreateGuild)
			r.Get("/{guildID}", GetGuild)
			r.Patch("/{guildID}", UpdateGuild)
			r.Delete("/{guildID}", DeleteGuild)

			r.Get("/{guildID}/channels", GetGuildChannels)
			r.Post("/{guildID}/channels", CreateChannel)

			r.Get("/{guildID}/members", GetMembers)
			r.Put("/{guildID}/members/me", JoinGuild)
			r.Delete("/{guildID}/members/{userID}", RemoveMember)

			r.Post("/{guildID}/roles", CreateRole)
			r.Put("/{guildID}/members/{userID}/roles/{roleID}", AssignRole)
			r.Delete("/{guildID}/members/{userID}/roles/{roleID}", UnassignRole)
		})

		api.Route("/channels", func(r chi.Router) {
			r.Use(UserVerifier)
			r.Patch("/{channelID}", UpdateChannel)
			r.Delete("/{channelID}", DeleteChannel)

			r.Get("/{channelID}/messages", GetMessages)
			r.Post("/{channelID}/messages", CreateMessage)
			r.Patch("/{channelID}/messages/{messageID}", UpdateMessage)
			r.Delete("/{channelID}/messages/{messageID}", DeleteMessage)

			r.Put("/{channelID}/messages/{messageID}/reactions/{emoji}", AddReaction)
			r.Delete("/{channelID}/messages/{messageID}/reactions/{emoji}", RemoveReaction)

			r.Post("/{channelID}/typing", TriggerTyping)
		})
	})

	// token auth happens in-band on the socket, not here
	r.Get("/gateway", gateway.HandleClient)

	address := fmt.Sprintf("%s:%s", cfg.Address, cfg.Port)

	if isHttps {
		return http.ListenAndServeTLS(address, cfg.TlsCert, cfg.TlsKey, r)
	}
	return http.ListenAndServe(address, r)
}
