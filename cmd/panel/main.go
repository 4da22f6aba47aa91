// xpanel-panel - VPN fleet control-plane server.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"xpanel/config"
	"xpanel/internal/adminauth"
	"xpanel/internal/handler"
	"xpanel/internal/noderegistry"
	"xpanel/internal/operations"
	"xpanel/internal/pki"
	"xpanel/internal/scheduler"
	"xpanel/internal/store"
	"xpanel/internal/usagepipeline"
	"xpanel/pkg/jwt"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)
	logger.SetLevel(logrus.InfoLevel)

	logger.Info("starting xpanel control plane")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("failed to load configuration: %v", err)
	}

	db, err := initDatabase(cfg, logger)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Info("database connected")

	redisClient := initRedis(cfg, logger)
	logger.Info("redis connected")

	jwtSecret, err := initJWTSecret(db, cfg.JWT.SecretKey, logger)
	if err != nil {
		logger.Fatalf("failed to initialize JWT secret: %v", err)
	}
	jwtManager := jwt.NewManager(jwtSecret, cfg.JWT.AccessTokenTTL, cfg.JWT.RefreshTokenTTL)

	st := store.New(db)
	if err := st.AutoMigrate(); err != nil {
		logger.Fatalf("failed to migrate database: %v", err)
	}
	authService := adminauth.New(st, jwtManager, redisClient, cfg.JWT.SudoAdmins)

	if err := createDefaultAdmin(st, logger); err != nil {
		logger.Warnf("failed to create default admin: %v", err)
	}

	registry := noderegistry.New(logger)
	pkiManager := pki.NewManager(st)

	ca, err := pkiManager.EnsureCA(context.Background())
	if err != nil {
		logger.Fatalf("failed to bootstrap CA: %v", err)
	}
	registry.SetCACert(ca.CertPEM)

	ops := operations.New(st, registry, logger, cfg.Jobs.OperationsPoolSize)
	usage := usagepipeline.New(st, registry, logger)

	sched := scheduler.New(logger)
	if err := scheduler.RegisterDefaultJobs(sched, scheduler.JobDeps{
		Store:                    st,
		Registry:                 registry,
		Operations:               ops,
		Usage:                    usage,
		AutoDeleteIncludeLimited: cfg.Jobs.AutoDeleteIncludeLimited,
		AutoDeleteDefaultDays:    cfg.Jobs.AutoDeleteDefaultDays,

		DisableRecordingNodeUsage: cfg.Jobs.DisableRecordingNodeUsage,
		DisableHealthCheck:        cfg.Jobs.DisableHealthCheck,
		DisableReviewUsers:        cfg.Jobs.DisableReviewUsers,
		DisablePeriodicReset:      cfg.Jobs.DisablePeriodicReset,
		DisableAutoDelete:         cfg.Jobs.DisableAutoDelete,
		DisableReminderSweep:      cfg.Jobs.DisableReminderSweep,
		DisableBandwidthSample:    cfg.Jobs.DisableBandwidthSample,
	}); err != nil {
		logger.Fatalf("failed to register scheduled jobs: %v", err)
	}
	sched.Start()

	reconnectKnownNodes(st, ops, logger)

	router := handler.NewRouter(handler.Deps{
		Store:        st,
		Auth:         authService,
		JWT:          jwtManager,
		Operations:   ops,
		Registry:     registry,
		PKI:          pkiManager,
		Redis:        redisClient,
		Log:          logger,
		SubURLPrefix:      cfg.Subscription.URLPrefix,
		SubSupportURL:     cfg.Subscription.SupportURL,
		SubProfileTitle:   cfg.Subscription.ProfileTitle,
		SubUpdateInterval: cfg.Subscription.UpdateInterval,
	})

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("server listening on %s", cfg.Server.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	<-sched.Stop().Done()
	ops.Shutdown()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalf("server forced to shutdown: %v", err)
	}
	logger.Info("shutdown complete")
}

func initDatabase(cfg *config.Config, logger *logrus.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return db, nil
}

func initRedis(cfg *config.Config, logger *logrus.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatalf("failed to connect to redis: %v", err)
	}
	return client
}

// initJWTSecret loads the JWT signing secret from the database, or
// generates and persists one on first startup, so the secret survives
// restarts without a mandatory env var.
func initJWTSecret(db *gorm.DB, fallbackSecret string, logger *logrus.Logger) (string, error) {
	type systemSetting struct {
		Key   string `gorm:"primaryKey"`
		Value string
	}
	if err := db.AutoMigrate(&systemSetting{}); err != nil {
		return "", fmt.Errorf("migrate system_settings: %w", err)
	}

	const key = "jwt_secret"
	var row systemSetting
	err := db.Where("key = ?", key).First(&row).Error
	if err == nil {
		logger.Info("JWT secret loaded from database")
		return row.Value, nil
	}
	if err != gorm.ErrRecordNotFound {
		return "", fmt.Errorf("query jwt secret: %w", err)
	}

	secret, genErr := generateSecureSecret(64)
	if genErr != nil {
		if fallbackSecret != "" && fallbackSecret != "your-super-secret-key-change-in-production" {
			logger.Warn("failed to generate random secret, using fallback from environment")
			secret = fallbackSecret
		} else {
			return "", fmt.Errorf("generate jwt secret: %w", genErr)
		}
	}

	row = systemSetting{Key: key, Value: secret}
	if err := db.Create(&row).Error; err != nil {
		return "", fmt.Errorf("store jwt secret: %w", err)
	}
	logger.Info("generated and stored new JWT secret")
	return secret, nil
}

func generateSecureSecret(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(buf)[:length], nil
}

// createDefaultAdmin bootstraps a sudo admin on first startup, matching
// the panel's CLI/env contract of always having at least one account
// that can create further admins.
func createDefaultAdmin(st *store.Store, logger *logrus.Logger) error {
	ctx := context.Background()
	count, err := st.CountAdmins(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	password := "admin123"
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	admin, err := st.CreateAdmin(ctx, "admin", string(hash), true)
	if err != nil {
		return err
	}

	logger.Infof("created default admin - username: %s, password: %s", admin.Username, password)
	logger.Warn("change the default admin password immediately")
	return nil
}

// reconnectKnownNodes schedules a connect attempt for every non-disabled
// node at startup, so the registry is warm before the first HealthCheck
// tick.
func reconnectKnownNodes(st *store.Store, ops *operations.Operations, logger *logrus.Logger) {
	nodes, err := st.ListNodes(context.Background())
	if err != nil {
		logger.Warnf("failed to list nodes at startup: %v", err)
		return
	}
	for _, node := range nodes {
		if !node.IsUsable() {
			continue
		}
		nodeID := node.ID
		ops.Enqueue(func(ctx context.Context) {
			_ = ops.ConnectNode(ctx, nodeID)
		})
	}
}
