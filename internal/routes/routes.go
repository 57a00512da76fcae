package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/taskpay/taskpay/internal/config"
	"github.com/taskpay/taskpay/internal/ledger"
	"github.com/taskpay/taskpay/internal/middleware"
	"github.com/taskpay/taskpay/internal/payment"
	"github.com/taskpay/taskpay/internal/payout"
	"github.com/taskpay/taskpay/internal/recovery"
	"github.com/taskpay/taskpay/internal/settlement"
	"github.com/taskpay/taskpay/internal/storage"
	"github.com/taskpay/taskpay/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg     config.Config
	DB      *pgxpool.Pool
	Cache   *redis.Client
	Gateway settlement.Gateway
	Logger  *slog.Logger
}

// Services holds the wired domain services, exposed so main can hand the
// recovery service to the retry scheduler.
type Services struct {
	Engine   *payment.Engine
	Recovery *recovery.Service
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) (*Services, error) {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.Env)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.Env)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	RegisterHealthRoutes(app, d)

	// Stores: Postgres in deployment, in-memory when running without a
	// database in development.
	var (
		db            storage.DB
		walletStore   wallet.Store
		platformStore wallet.PlatformStore
		entries       ledger.Recorder
		paymentStore  payment.Store
		payoutStore   payout.Store
		failureStore  recovery.Store
	)
	if d.DB != nil {
		db = storage.NewPostgres(d.DB)
		walletStore = wallet.NewPostgresStore()
		platformStore = wallet.NewPostgresPlatformStore()
		entries = ledger.NewPostgresRecorder()
		paymentStore = payment.NewPostgresStore()
		payoutStore = payout.NewPostgresStore()
		failureStore = recovery.NewPostgresStore()
	} else {
		db = storage.NewMemory()
		walletStore = wallet.NewMemoryStore()
		platformStore = wallet.NewMemoryPlatformStore()
		entries = ledger.NewMemoryRecorder()
		paymentStore = payment.NewMemoryStore()
		payoutStore = payout.NewMemoryStore()
		failureStore = recovery.NewMemoryStore()
	}

	gateway := d.Gateway
	if gateway == nil {
		gateway = settlement.StaticGateway{}
	}

	recoverySvc := recovery.NewService(db, failureStore, payoutStore, entries, walletStore, gateway, d.Logger)
	engine := payment.NewEngine(db, walletStore, platformStore, entries, paymentStore, payoutStore,
		gateway, recoverySvc, d.Cfg.Currency, d.Logger)
	walletSvc := wallet.NewService(db, walletStore)

	paymentHandler := payment.NewHandler(engine)
	walletHandler := wallet.NewHandler(walletSvc, engine)
	recoveryHandler := recovery.NewHandler(recoverySvc, d.Cfg.RetryBatchSize)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterPaymentRoutes(api, paymentHandler)
	RegisterWalletRoutes(api, walletHandler)

	admin := app.Group("/admin", middleware.AdminAuth(d.Cfg.AdminTokenHash))
	RegisterAdminRoutes(admin, recoveryHandler)

	return &Services{Engine: engine, Recovery: recoverySvc}, nil
}
