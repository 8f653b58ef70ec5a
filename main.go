package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ThirDecade2020/GitPaid/handlers"
	"github.com/ThirDecade2020/GitPaid/middleware"
	"github.com/ThirDecade2020/GitPaid/models"
	"github.com/ThirDecade2020/GitPaid/services"
	"github.com/ThirDecade2020/GitPaid/utils"
	"github.com/ThirDecade2020/GitPaid/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024, // webhook payloads are small
	})

	// 🔐 GLOBAL: only Gateway requests allowed (GitHub webhooks exempt — own HMAC auth)
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(allowedOriginsList, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID, X-User-Roles",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	walletSecret := os.Getenv("WALLET_ENCRYPTION_SECRET")
	if walletSecret == "" {
		log.Fatal("WALLET_ENCRYPTION_SECRET environment variable not set")
	}

	escrowAddress := os.Getenv("ESCROW_ADDRESS")
	if escrowAddress == "" {
		log.Fatal("ESCROW_ADDRESS environment variable not set")
	}
	escrowKey, err := utils.ParsePrivateKeyHex(os.Getenv("ESCROW_PRIVATE_KEY"))
	if err != nil {
		log.Fatal("ESCROW_PRIVATE_KEY is missing or malformed")
	}

	chainRPCURL := os.Getenv("CHAIN_RPC_URL")
	if chainRPCURL == "" {
		log.Fatal("CHAIN_RPC_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Wallet{},
		&models.Bounty{},
		&models.RepoWebhook{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	vault := utils.NewKeyVault(walletSecret)

	walletService := services.NewWalletService(db, vault)

	transferService, err := services.NewTransferService(
		db, vault, services.NewChainClient(chainRPCURL), escrowAddress, escrowKey)
	if err != nil {
		log.Fatal("failed to initialize transfer service:", err)
	}

	issueVerifier := services.NewGitHubIssueVerifier(os.Getenv("GITHUB_TOKEN"))

	bountyService := services.NewBountyService(db, transferService, issueVerifier)
	webhookService := services.NewWebhookService(db, bountyService)

	handlers.SetupWalletRoutes(app, walletService)
	handlers.SetupBountyRoutes(app, bountyService)
	handlers.SetupWebhookRoutes(app, webhookService)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Webhook fallback: periodically re-check claimed bounties against GitHub
	syncInterval := 5 * time.Minute
	if raw := os.Getenv("ISSUE_SYNC_INTERVAL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			syncInterval = d
		} else {
			log.Printf("⚠️  Invalid ISSUE_SYNC_INTERVAL %q, using default %s", raw, syncInterval)
		}
	}
	syncWorker := workers.NewIssueSyncWorker(bountyService, issueVerifier, syncInterval)
	go syncWorker.Start(ctx)

	port := os.Getenv("PORT")
	if port == "" {
		port = "5300"
	}

	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", port)
	log.Printf("✅ Issue sync worker running (every %s)", syncInterval)
	log.Println("✅ GatewayAuthMiddleware enforced globally — GitHub webhooks verified by HMAC")
	log.Printf("✅ Escrow identity: %s", transferService.EscrowAddress())

	<-ctx.Done()
	log.Println("Shutting down server...")
}
