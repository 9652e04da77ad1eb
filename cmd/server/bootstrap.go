package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ticvision/portal/internal/api"
	"github.com/ticvision/portal/internal/app"
	"github.com/ticvision/portal/internal/app/maintenance"
	iauth "github.com/ticvision/portal/internal/auth"
	"github.com/ticvision/portal/internal/cache"
	"github.com/ticvision/portal/internal/database"
	"github.com/ticvision/portal/internal/middleware"
	"github.com/ticvision/portal/internal/monitoring"
	"github.com/ticvision/portal/internal/monitoring/checks"
	"github.com/ticvision/portal/internal/services"
	"github.com/ticvision/portal/internal/store"
	"github.com/ticvision/portal/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB      *gorm.DB
	Mongo   *mongo.Client
	Redis   *cache.RedisStore
	Cleaner *maintenance.Cleaner
	Router  *gin.Engine
}

// workflowStores are the persistence ports behind the services.
type workflowStores struct {
	Confirmations store.ConfirmationStore
	Directory     store.Directory
	Tics          store.TicStore
}

// bootstrapRuntime initialises databases, caches, services, and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	stores, err := stack.openStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	dbStore := cache.NewDatabaseStore(stack.DB)

	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisStore(ctx, cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed operations", zap.Error(err))
			stack.Redis = nil
		} else {
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	auditSvc, err := services.NewAuditService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise audit service: %w", err)
	}

	userSvc, err := services.NewUserService(stores.Directory, auditSvc)
	if err != nil {
		return nil, fmt.Errorf("initialise user service: %w", err)
	}

	confirmationOpts := append(cfg.Confirmation.ServiceOptions(), services.WithConfirmationAudit(auditSvc))
	confirmationSvc, err := services.NewConfirmationService(stores.Confirmations, stores.Directory, confirmationOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise confirmation service: %w", err)
	}

	dashboardSvc, err := services.NewDashboardService(stores.Confirmations, stores.Directory)
	if err != nil {
		return nil, fmt.Errorf("initialise dashboard service: %w", err)
	}

	ticSvc, err := services.NewTicService(stores.Tics, stores.Directory, stores.Confirmations, services.WithTicAudit(auditSvc))
	if err != nil {
		return nil, fmt.Errorf("initialise tic service: %w", err)
	}

	cleanerOpts := []maintenance.Option{
		maintenance.WithExpirySchedule(cfg.Maintenance.Schedule),
		maintenance.WithAuditRetentionDays(cfg.Maintenance.AuditRetentionDays),
	}
	if stack.Redis == nil {
		// Redis expires its own keys; only the table-backed cache needs pruning.
		cleanerOpts = append(cleanerOpts, maintenance.WithCachePruner(dbStore))
	}
	stack.Cleaner = maintenance.NewCleaner(confirmationSvc, auditSvc, cleanerOpts...)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	var rateStore middleware.RateStore
	if stack.Redis != nil {
		rateStore = middleware.NewCacheRateStore(stack.Redis)
	} else {
		rateStore = middleware.NewCacheRateStore(dbStore)
	}

	stack.Router, err = api.NewRouter(api.Dependencies{
		Config:        cfg,
		JWT:           jwtSvc,
		Users:         userSvc,
		Confirmations: confirmationSvc,
		Dashboard:     dashboardSvc,
		Tics:          ticSvc,
		Health:        stack.healthManager(cfg),
		RateStore:     rateStore,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// openStores selects the relational or document implementation of the
// workflow stores according to database.driver.
func (s *runtimeStack) openStores(ctx context.Context, cfg *app.Config, log *zap.Logger) (workflowStores, error) {
	if !cfg.Database.UsesMongo() {
		confirmations, err := store.NewGormConfirmationStore(s.DB)
		if err != nil {
			return workflowStores{}, err
		}
		directory, err := store.NewGormDirectory(s.DB)
		if err != nil {
			return workflowStores{}, err
		}
		tics, err := store.NewGormTicStore(s.DB)
		if err != nil {
			return workflowStores{}, err
		}
		return workflowStores{Confirmations: confirmations, Directory: directory, Tics: tics}, nil
	}

	client, db, err := database.OpenMongo(ctx, cfg.Database.MongoClientConfig())
	if err != nil {
		return workflowStores{}, fmt.Errorf("open mongo: %w", err)
	}
	s.Mongo = client

	if err := store.EnsureMongoIndexes(ctx, db); err != nil {
		return workflowStores{}, fmt.Errorf("ensure mongo indexes: %w", err)
	}
	log.Info("mongo connected", zap.String("database", db.Name()))

	confirmations, err := store.NewMongoConfirmationStore(client, db)
	if err != nil {
		return workflowStores{}, err
	}
	directory, err := store.NewMongoDirectory(db)
	if err != nil {
		return workflowStores{}, err
	}
	tics, err := store.NewMongoTicStore(db)
	if err != nil {
		return workflowStores{}, err
	}
	return workflowStores{Confirmations: confirmations, Directory: directory, Tics: tics}, nil
}

func (s *runtimeStack) healthManager(cfg *app.Config) *monitoring.HealthManager {
	if !cfg.Monitoring.Health.Enabled {
		return nil
	}

	manager := monitoring.NewHealthManager()
	manager.RegisterLiveness(monitoring.NewCheck("process", func(context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}))
	manager.RegisterReadiness(checks.Database(s.DB, 0))
	if s.Mongo != nil {
		manager.RegisterReadiness(checks.Mongo(s.Mongo, 0))
	}

	var pinger cache.Pinger
	if s.Redis != nil {
		pinger = s.Redis
	}
	manager.RegisterReadiness(checks.Redis(pinger, cfg.Cache.Redis.Enabled, cfg.Cache.Redis.Timeout))
	return manager
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			<-stopCtx.Done()
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.Mongo != nil {
		if err := s.Mongo.Disconnect(ctx); err != nil {
			log.Warn("mongo shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.GormConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Migrate(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if err := database.Close(db); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
