package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"duel-arena/arena"
	"duel-arena/handlers"
	"duel-arena/middleware"
	"duel-arena/models"
	"duel-arena/services"
	"duel-arena/store"
	"duel-arena/utils"
	"duel-arena/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openDatabase() *gorm.DB {
	switch dbType := utils.GetEnv("DB_TYPE", "sqlite"); dbType {
	case "sqlite":
		path := utils.GetEnv("SQLITE_PATH", "duel-arena.db")
		db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
		if err != nil {
			log.Fatal("failed to open sqlite database:", err)
		}
		// single writer, otherwise concurrent CAS rounds hit SQLITE_BUSY
		sqlDB, err := db.DB()
		if err != nil {
			log.Fatal("failed to get sqlite handle:", err)
		}
		sqlDB.SetMaxOpenConns(1)
		log.Printf("✅ Using sqlite database at %s", path)
		return db
	case "postgres":
		dsn := os.Getenv("DATABASE_URL")
		if dsn == "" {
			log.Fatal("DATABASE_URL environment variable not set")
		}
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			log.Fatal("failed to connect to database:", err)
		}
		return db
	default:
		log.Fatalf("unsupported DB_TYPE %q (want postgres or sqlite)", dbType)
		return nil
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 4 * 1024 * 1024,
	})

	// EventSource cannot send headers, lift the query token before the gateway check
	app.Use("/store/stream", middleware.SSETokenMiddleware())

	// 🔐❗ GLOBAL: Only Gateway requests allowed
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOrigins := utils.SplitList(os.Getenv("ALLOWED_ORIGINS"))
	if len(allowedOrigins) == 0 {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOrigins = []string{"http://localhost:3000"}
	}
	allowedOriginsString := strings.Join(allowedOrigins, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, If-Match, X-Player-ID, X-Session-ID, Cache-Control",
		ExposeHeaders:    "Content-Length, Content-Type, ETag",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	db := openDatabase()
	if err := db.AutoMigrate(
		&models.StoreNode{},
		&models.StoreSession{},
		&models.DisconnectHook{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	clock := clockwork.NewRealClock()
	presenceTTL := utils.GetEnvDuration("PRESENCE_TTL", arena.DefaultPresenceTTL)
	sessionTTL := utils.GetEnvDuration("SESSION_TTL", 60*time.Second)

	docs := store.NewGormStore(db, clock, utils.GetEnvDuration("STORE_POLL_INTERVAL", 500*time.Millisecond))
	defer docs.Close()

	sessionService := services.NewSessionService(db, docs, clock, sessionTTL)
	storeService := services.NewStoreService(docs)
	duels := arena.New(docs, arena.WithClock(clock), arena.WithPresenceTTL(presenceTTL))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	schedCfg := services.SchedulerConfig{
		Sessions:     sessionService,
		Store:        docs,
		Clock:        clock,
		PresenceTTL:  presenceTTL,
		SessionSweep: utils.GetEnvDuration("SESSION_SWEEP_INTERVAL", 15*time.Second),
	}
	if interval := utils.GetEnvDuration("SNAPSHOT_INTERVAL", 0); interval > 0 {
		if bucket, err := utils.NewR2FromEnv(ctx); err != nil {
			log.Printf("⚠️  Store snapshots disabled: %v", err)
		} else {
			schedCfg.Snapshots = services.NewSnapshotService(docs, bucket.Upload, clock)
			schedCfg.SnapshotInterval = interval
		}
	}
	sched, err := services.StartMaintenanceScheduler(schedCfg)
	if err != nil {
		log.Fatal("failed to start maintenance scheduler:", err)
	}
	defer func() {
		if err := sched.Shutdown(); err != nil {
			log.Printf("Scheduler shutdown error: %v", err)
		}
	}()

	forfeitAfter := utils.GetEnvDuration("FORFEIT_AFTER", 0)
	if forfeitAfter > 0 {
		go workers.PollForfeits(ctx, workers.NewForfeitWorker(duels, forfeitAfter), 10*time.Second)
	}

	handlers.SetupStoreRoutes(app, storeService, sessionService)
	handlers.SetupPlayerRoutes(app, duels)

	port := utils.GetEnv("PORT", "5200")
	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", port)
	log.Printf("✅ Sessions expire after %s without a heartbeat", sessionTTL)
	log.Printf("✅ Lobby entries expire after %s", presenceTTL)
	if schedCfg.Snapshots != nil {
		log.Printf("✅ Store snapshots to R2 every %s", schedCfg.SnapshotInterval)
	}
	if forfeitAfter > 0 {
		log.Printf("✅ Forfeit polling running (grace %s)", forfeitAfter)
	}
	log.Println("✅ GatewayAuthMiddleware enforced globally, all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
