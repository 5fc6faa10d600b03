package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/analytics"
	"taskboard/api"
	"taskboard/broadcast"
	"taskboard/bus"
	"taskboard/domain"
	"taskboard/notify"
	"taskboard/service"
	"taskboard/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.New()
	logger.SetLevel(log.GetLevel())

	store := storage.NewMemoryStore()
	coord := service.NewCoordinator(store, logger)

	var rc *redis.Client
	if redisConn := os.Getenv("REDIS_CONNECTION_STRING"); redisConn != "" {
		rc = redis.NewClient(parseRedisOptions(redisConn))
	} else {
		logger.Warn("no redis configured; cache, broadcast and idempotency are disabled")
	}

	cache := storage.NewBoardCache(coord, rc, envDur("CACHE_TTL", storage.DefaultBoardTTL))

	aggregator := analytics.New()
	dispatcher := notify.NewDispatcher(nil, logger)
	eventBus, err := bus.New(bus.Config{
		Dir:    envString("EVENT_BUS_DIR", "data/events"),
		Logger: logger,
	},
		bus.Subscription{
			Name:     "analytics",
			Bindings: []string{domain.RouteBoardCreated, domain.RouteCardCreated, domain.RouteCardMoved},
			Handler:  aggregator.Handle,
		},
		bus.Subscription{
			Name:     "notifications",
			Bindings: []string{domain.RouteCardCreated, domain.RouteCardMoved},
			Handler:  dispatcher.Handle,
		},
	)
	if err != nil {
		logger.Fatalf("event bus: %v", err)
	}

	broadcaster := broadcast.New(rc, envDur("BROADCAST_TIMEOUT", 0), logger)

	coord.UseFanOut(service.FanOut{
		Cache:     cache,
		Events:    eventBus,
		Broadcast: broadcaster,
		Timeout:   envDur("FANOUT_TIMEOUT", 0),
	})

	var deduper api.Deduper
	if rc != nil {
		deduper = api.NewRedisDeduper(rc, envDur("DEDUPER_TTL", 24*time.Hour))
	}

	auth := buildAuth(logger)

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(api.GzipRequestMiddleware())

	api.Register(e, api.Deps{
		Service:  coord,
		Boards:   cache,
		Auth:     auth,
		Deduper:  deduper,
		Streamer: broadcaster,
		Insights: aggregator,
		Bus:      eventBus,
		Logger:   logger,
	})

	listenAddr := ":" + envString("PORT", "8080")
	go func() {
		if err := e.Start(listenAddr); err != nil {
			logger.WithError(err).Info("http server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("http shutdown")
	}
	eventBus.Shutdown()
	if rc != nil {
		if err := rc.Close(); err != nil {
			logger.WithError(err).Error("redis close")
		}
	}
}

func buildAuth(logger *log.Logger) *api.Auth {
	if os.Getenv("AUTH_TEST_MODE") == "1" || os.Getenv("LOCAL_AUTH_MODE") != "" {
		return api.NewAuth(nil, "", "")
	}
	audience := os.Getenv("AUTH_AUDIENCE")
	authDomain := os.Getenv("AUTH_DOMAIN")
	if audience == "" || authDomain == "" {
		logger.Fatal("missing auth config")
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", authDomain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
	if err != nil {
		logger.Fatalf("jwks: %v", err)
	}
	return api.NewAuth(jwks, audience, "https://"+authDomain+"/")
}

// parseRedisOptions accepts either a redis URL or a comma-separated
// host:port,key=value connection string.
func parseRedisOptions(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}

func envString(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envDur(name string, fallback time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Fatalf("invalid %s: %v", name, err)
	}
	return d
}
