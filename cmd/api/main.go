package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/jhoicas/verifactu-hub/internal/application/pipeline"
	"github.com/jhoicas/verifactu-hub/internal/domain/verifactu"
	infraaeat "github.com/jhoicas/verifactu-hub/internal/infrastructure/aeat"
	"github.com/jhoicas/verifactu-hub/internal/infrastructure/lock"
	"github.com/jhoicas/verifactu-hub/internal/infrastructure/postgres"
	httpRouter "github.com/jhoicas/verifactu-hub/internal/interfaces/http"
	"github.com/jhoicas/verifactu-hub/pkg/config"
	"github.com/jhoicas/verifactu-hub/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: cfg.App.LogLevel,
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Str("aeat_env", cfg.AEAT.Environment).
		Msg("iniciando aplicación")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a PostgreSQL")
	}
	defer pool.Close()

	recordRepo := postgres.NewInvoiceRecordRepository(pool)
	installationRepo := postgres.NewInstallationRepository(pool)
	triggerRepo := postgres.NewDispatchTriggerRepository(pool)
	batchRepo := postgres.NewBatchRepository(pool)
	txRunner := postgres.NewTxRunner(pool)

	// Lock por instalación: Redis si hay dirección configurada, registro en
	// memoria para despliegues de un solo proceso.
	var locker pipeline.Locker
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		locker = lock.NewRedisLocker(rdb)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("lock distribuido sobre Redis")
	} else {
		locker = lock.NewMemoryLocker()
		log.Info().Msg("lock de instalaciones en memoria (un solo proceso)")
	}

	huellaSvc := verifactu.NewHuellaService()
	intakeUC := pipeline.NewIntakeUseCase(txRunner, huellaSvc)
	statusUC := pipeline.NewStatusUseCase(recordRepo, installationRepo, triggerRepo)

	renderer := infraaeat.NewXMLBuilderService(infraaeat.SistemaInformatico{
		NombreRazon: cfg.App.Name,
		Nombre:      cfg.App.Name,
		ID:          "VH",
		Version:     "1.0",
	})

	// Submitter: SOAP con mTLS en test/prod, simulado en dev.
	var submitter pipeline.Submitter
	if cfg.AEAT.Environment == infraaeat.AppEnvDev {
		submitter = infraaeat.NewSimulatedSubmitter()
		log.Warn().Msg("entorno dev: los envíos a la AEAT se simulan")
	} else {
		cert, err := infraaeat.LoadCertFromPEM(cfg.AEAT.CertPath, cfg.AEAT.CertKeyPath)
		if err != nil {
			log.Fatal().Err(err).Msg("certificado AEAT")
		}
		submitter, err = infraaeat.NewSOAPClient(cfg.AEAT.Environment, cert, cfg.AEAT.SendTimeout)
		if err != nil {
			log.Fatal().Err(err).Msg("cliente SOAP AEAT")
		}
	}

	builder := pipeline.NewBatchBuilder(txRunner, locker, pipeline.BatchBuilderConfig{
		MaxRecordsPerBatch: cfg.Pipeline.MaxRecordsPerBatch,
		MaxAttempts:        cfg.Pipeline.MaxAttempts,
		LockTTL:            cfg.Pipeline.LockTTL,
	}, log.Component("batch_builder"))

	scheduler := pipeline.NewScheduler(installationRepo, builder,
		cfg.Pipeline.SchedulerInterval, log.Component("scheduler"))

	worker := pipeline.NewWorker(txRunner, triggerRepo, batchRepo, recordRepo,
		installationRepo, renderer, submitter, pipeline.WorkerConfig{
			SendTimeout:    cfg.AEAT.SendTimeout,
			InitialBackoff: cfg.Pipeline.InitialBackoff,
		}, log.Component("worker"))

	workerPool := pipeline.NewWorkerPool(worker, cfg.Pipeline.WorkerCount,
		cfg.Pipeline.CallsPerMinute, 0, log.Component("worker_pool"))

	dispatcher := pipeline.NewDispatcher(triggerRepo, txRunner, workerPool, pipeline.DispatcherConfig{
		Interval:  cfg.Pipeline.DispatcherInterval,
		BatchSize: cfg.Pipeline.DispatchBatchSize,
	}, log.Component("dispatcher"))

	go scheduler.Run(ctx)
	go dispatcher.Run(ctx)
	go workerPool.Run(ctx)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 10,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	// Swagger UI en local: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    "VeriFactu Hub API",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": cfg.App.Name})
	})

	httpRouter.Router(app, httpRouter.RouterDeps{
		Intake:        intakeUC,
		Status:        statusUC,
		Installations: installationRepo,
		JWTSecret:     cfg.JWT.Secret,
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("apagando: deteniendo pipeline y servidor HTTP")
	cancel() // detiene scheduler, dispatcher y workers

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error().Err(err).Msg("apagado del servidor HTTP")
	}
	log.Info().Msg("aplicación detenida")
}
