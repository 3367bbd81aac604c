package app

import (
	"context"
	"log"
	"time"

	"library_lending_service/config"
	"library_lending_service/db"
	"library_lending_service/peer"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Aliases so handlers stay short.
type Ctx = gin.Context
type H = gin.H

// App aggregates the service dependencies.
type App struct {
	Router *gin.Engine
	DB     *gorm.DB
	RDB    *redis.Client
	Peers  *peer.Gateway
	Config config.Config
}

func MustNew() *App {
	cfg := config.Load()

	// --- DB: Postgres ---
	dbConn := db.ConnectDB()

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPwd, DB: 0})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis: %v", err)
	}

	// --- Peer gateway: one breaker per remote operation ---
	gw := peer.NewGateway(peer.Options{
		IdentityBaseURL: cfg.IdentityBaseURL,
		CatalogBaseURL:  cfg.CatalogBaseURL,
		CallTimeout:     cfg.PeerCallTimeout,
		Breaker: peer.BreakerOptions{
			WindowSize:     cfg.BreakerWindow,
			ErrorThreshold: cfg.BreakerThreshold,
			MinRequests:    cfg.BreakerMinRequests,
			ResetTimeout:   cfg.BreakerResetTimeout,
		},
		Cache: peer.NewDetailCache(rdb, cfg.CacheTTL),
	})

	// --- Gin ---
	r := gin.Default()
	useCORS(r, cfg.WebOrigin)

	return &App{Router: r, DB: dbConn, RDB: rdb, Peers: gw, Config: cfg}
}

func (a *App) Close() { _ = a.RDB.Close() }
