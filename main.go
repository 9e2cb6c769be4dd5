package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"guildchat-backend/internal/bus"
	"guildchat-backend/internal/config"
	"guildchat-backend/internal/database"
	"guildchat-backend/internal/gateway"
	"guildchat-backend/internal/handlers"
	"guildchat-backend/internal/keyValue"
	"guildchat-backend/internal/permissions"
	"guildchat-backend/internal/presence"
	"guildchat-backend/internal/session"
	"guildchat-backend/internal/snowflake"
	"guildchat-backend/internal/store"
	"guildchat-backend/internal/token"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func setupLogger(cfg *config.Config) (*zap.SugaredLogger, error) {
	zapConfig := zap.NewProductionConfig()

	zapConfig.OutputPaths = []string{"stdout"}
	if cfg.LogToFile {
		zapConfig.OutputPaths = append(zapConfig.OutputPaths, "app.log")
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}

	return logger.Sugar(), nil
}

func setupRedis(cfg *config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDb,
	})

	err := rdb.Ping(context.Background()).Err()
	if err != nil {
		return nil, err
	}

	return rdb, nil
}

func main() {
	fmt.Println("Reading configuration...")
	cfg, err := config.Load()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	fmt.Println("Setting up logger...")
	sugar, err := setupLogger(cfg)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer sugar.Sync()

	err = snowflake.Setup(cfg.SnowflakeWorkerID)
	if err != nil {
		sugar.Fatal(err)
	}

	fmt.Println("Connecting to database...")
	db, err := database.Setup(cfg)
	if err != nil {
		sugar.Fatal(err)
	}

	var redisClient *redis.Client
	if !cfg.SelfContained {
		fmt.Println("Connecting to redis...")
		redisClient, err = setupRedis(cfg)
		if err != nil {
			sugar.Fatal(err)
		}
	}

	keyValue.Setup(sugar, redisClient, cfg.SelfContained)
	bus.Setup(sugar, redisClient, cfg.SelfContained)
	session.Setup(sugar, cfg.ResumeWindow)
	presence.Setup(sugar)
	store.Setup(sugar, db)

	resolver := permissions.NewResolver(store.Store{})

	token.Setup(cfg.JwtSecret)

	isHttps := (cfg.TlsCert != "" && cfg.TlsKey != "")

	var wsProtocol string
	if isHttps {
		wsProtocol = "wss"
	} else {
		wsProtocol = "ws"
	}
	resumeGatewayURL := fmt.Sprintf("%s://%s:%s/gateway", wsProtocol, cfg.Address, cfg.Port)

	gateway.Setup(sugar, resolver, cfg, resumeGatewayURL)

	var group errgroup.Group

	group.Go(func() error {
		fmt.Printf("Server is running on %s:%s\n", cfg.Address, cfg.Port)
		return handlers.Setup(isHttps, cfg, sugar, db, resolver)
	})

	group.Go(func() error {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
		sig := <-signals

		sugar.Infof("Received %s, parking local sessions and shutting down", sig)

		// park every local session so clients can resume against
		// another instance within the window
		gateway.Shutdown()

		db.Close()
		if redisClient != nil {
			redisClient.Close()
		}

		os.Exit(0)
		return nil
	})

	err = group.Wait()
	if err != nil {
		sugar.Fatal(err)
	}
}
