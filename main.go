package main

import (
	"log"
	"os"

	"advisorchat/internal/api"
	"advisorchat/internal/auth"
	"advisorchat/internal/chat"
	"advisorchat/internal/config"
	"advisorchat/internal/feed"
	"advisorchat/internal/redis"
	"advisorchat/internal/storage"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("ADVISORCHAT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("ADVISORCHAT_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	// Create necessary tables: conversations, messages
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	// Without redis the service still runs, but live updates only reach
	// viewers connected to this instance and the admin index is uncached.
	var (
		liveFeed  feed.Feed
		publisher feed.Publisher
		cache     *redis.Client
	)
	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		log.Printf("redis unavailable, running single-instance: %v", err)
		hub := feed.NewHub()
		liveFeed, publisher = hub, hub
	} else {
		defer rdb.Close()
		cache = rdb
		redisFeed, err := feed.NewRedis(rdb)
		if err != nil {
			log.Fatalf("subscribe message feed: %v", err)
		}
		defer redisFeed.Close()
		liveFeed, publisher = redisFeed, redisFeed
	}

	autoReply := chat.NewAutoReply(cfg.Chat)
	chatService := chat.NewService(db, publisher, cache, autoReply)
	authService := auth.NewService(cfg.Chat.AdvisorTokens)
	handlers := api.NewHandler(chatService, authService, liveFeed, cfg.Chat.AllowedOrigins)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
