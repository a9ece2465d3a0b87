package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/fitversal/messaging-api/internal/config"
	"github.com/fitversal/messaging-api/internal/database"
	"github.com/fitversal/messaging-api/internal/handler"
	"github.com/fitversal/messaging-api/internal/middleware"
	"github.com/fitversal/messaging-api/internal/models"
	"github.com/fitversal/messaging-api/internal/realtime"
	"github.com/fitversal/messaging-api/internal/repository"
	"github.com/fitversal/messaging-api/internal/router"
	"github.com/fitversal/messaging-api/internal/service"
	cloud "github.com/fitversal/messaging-api/pkg/cloudinary"
	"github.com/fitversal/messaging-api/pkg/crypto"
	"github.com/fitversal/messaging-api/pkg/moderation"
	"github.com/fitversal/messaging-api/pkg/push"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(models.MessagingModels()...); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	natsConn, err := database.ConnectNATS(cfg.NATSURL)
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}
	defer natsConn.Close()

	encryptor, err := crypto.New(cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("failed to initialise encryption: %v", err)
	}

	uploader, err := cloud.New(cloud.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryUploadFolder,
	}, logger)
	if err != nil {
		log.Fatalf("failed to create cloudinary client: %v", err)
	}

	moderator := moderation.New(moderation.Config{
		Words:        cfg.ModerationWordlist,
		OpenAIAPIKey: cfg.OpenAIAPIKey,
		Timeout:      cfg.ModerationTimeout,
		Logger:       logger,
	})

	notifier := push.NewNATSNotifier(natsConn, cfg.PushSubject, logger)

	validate := validator.New(validator.WithRequiredStructEnabled())

	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	blockRepo := repository.NewBlockRepository(db)
	attachmentRepo := repository.NewAttachmentRepository(db)

	hub := realtime.NewHub(logger)
	bus := realtime.NewBus(hub, redisClient, natsConn, cfg.ChannelBase, logger)

	messagingService := service.NewMessagingService(db, conversationRepo, messageRepo, moderator, encryptor, notifier, bus, validate, logger)
	conversationService := service.NewConversationService(conversationRepo, messageRepo, blockRepo, bus, validate, logger)
	blockService := service.NewBlockService(blockRepo, validate, logger)
	typingService := service.NewTypingService(conversationRepo, redisClient, cfg.ChannelBase, bus, validate, logger)
	attachmentService := service.NewAttachmentService(uploader, attachmentRepo, cfg.MaxAttachmentMB, logger)
	deliveryService := service.NewDeliveryService(conversationRepo, messageRepo, notifier, bus, cfg.DeliveryInterval, logger)

	conversationHandler := handler.NewConversationHandler(conversationService, messagingService, validate, logger)
	messageHandler := handler.NewMessageHandler(messagingService, validate, logger)
	blockHandler := handler.NewBlockHandler(blockService, validate, logger)
	typingHandler := handler.NewTypingHandler(typingService, validate, logger)
	attachmentHandler := handler.NewAttachmentHandler(attachmentService, logger)
	websocketHandler := handler.NewWebsocketHandler(hub, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		ConversationHandler: conversationHandler,
		MessageHandler:      messageHandler,
		BlockHandler:        blockHandler,
		TypingHandler:       typingHandler,
		AttachmentHandler:   attachmentHandler,
		WebsocketHandler:    websocketHandler,
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret),
	})

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus.Start(runCtx)
	deliveryService.Start(runCtx)

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, cancel)
}

func waitForShutdown(app *fiber.App, cancel context.CancelFunc) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()
	cancel()

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
