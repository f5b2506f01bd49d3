package main

import (
	"database/sql"
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/egregor-app/egregor/go/internal/chat"
	"github.com/egregor-app/egregor/go/internal/dbconfig"
	"github.com/egregor-app/egregor/go/internal/event"
	"github.com/egregor-app/egregor/go/internal/feed"
	"github.com/egregor-app/egregor/go/internal/gateway"
	"github.com/egregor-app/egregor/go/internal/presence"
	"github.com/egregor-app/egregor/go/internal/profile"
	"github.com/egregor-app/egregor/go/internal/room"
	"github.com/egregor-app/egregor/go/internal/runstate"
)

type Services struct {
	Events    *event.App
	RunStates *runstate.App
	Presence  *presence.App
	Chat      *chat.App
	Profiles  *profile.Repository

	Publisher *gateway.JetStreamPublisher
	Listener  *feed.Listener
	Gateway   *gateway.Service
}

func setupServices(database *sql.DB, config *Config, dbConfig dbconfig.Config) (*Services, error) {
	// Wire up dependency injection chain
	// Database layer → Repository layer → App layer → Gateway

	natsURL := getEnv("NATS_URL", "nats://localhost:4222")

	publisherCfg := gateway.DefaultJetStreamConfig()
	publisherCfg.URL = natsURL
	if config.Nats.Stream != "" {
		publisherCfg.StreamName = config.Nats.Stream
	}
	if config.Nats.SubjectPrefix != "" {
		publisherCfg.SubjectPrefix = config.Nats.SubjectPrefix
	}
	publisher, err := gateway.NewJetStreamPublisher(publisherCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create event publisher: %w", err)
	}

	// Events
	eventRepo := event.NewRepository(database)
	eventApp := event.NewApp(eventRepo)

	// Run state
	runStateRepo := runstate.NewRepository(database)
	runStateApp := runstate.NewApp(runStateRepo, publisher)

	// Presence
	presenceRepo := presence.NewRepository(database)
	presenceApp := presence.NewApp(presenceRepo, publisher)

	// Chat
	chatRepo := chat.NewRepository(database)
	chatApp := chat.NewApp(chatRepo, publisher)

	// Profiles
	profileRepo := profile.NewRepository(database)

	// Postgres change feed shared by every room controller
	listenerCfg := feed.DefaultListenerConfig()
	listenerCfg.DatabaseURL = dbConfig.DSN()
	listener, err := feed.NewListener(listenerCfg)
	if err != nil {
		publisher.Close()
		return nil, fmt.Errorf("failed to create change listener: %w", err)
	}

	roomCfg := room.DefaultConfig()
	roomCfg.DisplayTick = millisOr(config.Room.DisplayTickMS, roomCfg.DisplayTick)
	roomCfg.HeartbeatInterval = durationOr(config.Room.HeartbeatIntervalSec, roomCfg.HeartbeatInterval)
	roomCfg.ResyncInterval = durationOr(config.Room.ResyncIntervalSec, roomCfg.ResyncInterval)
	roomCfg.ActiveWindow = durationOr(config.Room.ActiveWindowSec, roomCfg.ActiveWindow)

	gatewayCfg := gateway.DefaultConfig()
	gatewayCfg.JetStreamConfig.URL = natsURL
	if config.Nats.Stream != "" {
		gatewayCfg.JetStreamConfig.StreamName = config.Nats.Stream
	}

	roomDeps := gateway.RoomDeps{
		Events:    eventApp,
		RunStates: runStateApp,
		Presence:  presenceApp,
		Chat:      chatApp,
		Feed:      listener,
		Config:    roomCfg,
	}

	stateProvider := gateway.NewRoomStateProvider(eventApp, runStateApp, presenceApp, profileRepo, clockwork.NewRealClock())

	roomGateway, err := gateway.NewService(gatewayCfg, roomDeps, stateProvider)
	if err != nil {
		publisher.Close()
		return nil, fmt.Errorf("failed to create room gateway: %w", err)
	}

	return &Services{
		Events:    eventApp,
		RunStates: runStateApp,
		Presence:  presenceApp,
		Chat:      chatApp,
		Profiles:  profileRepo,
		Publisher: publisher,
		Listener:  listener,
		Gateway:   roomGateway,
	}, nil
}
