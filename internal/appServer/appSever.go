package appServer

import (
	"context"
	"crypto/tls"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ds124wfegd/library-reservations/config"
	repository "github.com/ds124wfegd/library-reservations/internal/database/postgres"
	"github.com/ds124wfegd/library-reservations/internal/service"
	"github.com/ds124wfegd/library-reservations/internal/transport"
	"github.com/ds124wfegd/library-reservations/internal/worker"

	"github.com/ds124wfegd/library-reservations/pkg/events"
	"github.com/ds124wfegd/library-reservations/pkg/mailer"
	"github.com/ds124wfegd/library-reservations/pkg/postgres"
	"github.com/ds124wfegd/library-reservations/pkg/queue"
	"github.com/ds124wfegd/library-reservations/pkg/redis"
	"github.com/ds124wfegd/library-reservations/pkg/scheduler"
	"github.com/ds124wfegd/library-reservations/pkg/telegram"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type Server struct {
	httpServer *http.Server
}

func (s *Server) Run(cfg *config.Config, handler http.Handler) error {
	s.httpServer = &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:           handler,
		MaxHeaderBytes:    1 << 20,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.Server.Timeout + 5*time.Second,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 3 * time.Second,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},
		ErrorLog:          log.New(os.Stderr, "SERVER ERROR: ", log.LstdFlags),
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func setupLogger(cfg *config.Config) {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

func NewServer(cfg *config.Config) {
	setupLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := postgres.NewPostgresDB(cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Run database migrations
	if err := postgres.RunMigrations(ctx, db); err != nil {
		logrus.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize repositories
	txManager := repository.NewTxManager(db)
	reservationRepo := repository.NewReservationRepository(db)
	itemRepo := repository.NewItemRepository(db)
	userRepo := repository.NewUserRepository(db)
	borrowRepo := repository.NewBorrowRepository(db)

	// Notification channels
	var mailSender service.MailSender
	if cfg.Email.Enabled {
		mailSender = mailer.NewSMTPMailer(cfg.Email)
		logrus.Info("SMTP mailer initialized")
	} else {
		logrus.Warn("Email disabled, assignment mails will not be sent")
	}

	var messageSender service.MessageSender
	if cfg.Telegram.Enabled && cfg.Telegram.BotToken != "" {
		messageSender = telegram.NewBot(cfg.Telegram.BotToken)
		logrus.Info("Telegram bot initialized")
	} else {
		logrus.Warn("Telegram bot token not provided, telegram notifications disabled")
	}

	// Redis queue (optional)
	var redisQueue *queue.RedisQueue
	var taskPublisher service.TaskPublisher

	if cfg.Redis.Enabled {
		redisClient, err := redis.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			logrus.Errorf("Failed to connect to Redis: %v. Continuing without queue...", err)
		} else {
			defer redisClient.Close()

			queueConfig := queue.DefaultRedisQueueConfig()
			if cfg.Redis.KeyPrefix != "" {
				queueConfig.KeyPrefix = cfg.Redis.KeyPrefix
			}
			if cfg.Worker.TaskMaxRetries > 0 {
				queueConfig.MaxRetries = cfg.Worker.TaskMaxRetries
			}
			if cfg.Worker.TaskBaseDelay > 0 {
				queueConfig.BaseDelay = cfg.Worker.TaskBaseDelay
			}

			dlqHandler := queue.NewDefaultDLQHandler(redisClient, queueConfig.KeyPrefix)
			redisQueue, err = queue.NewRedisQueue(ctx, redisClient, queueConfig, dlqHandler)
			if err != nil {
				logrus.Errorf("Failed to initialize Redis queue: %v. Continuing without queue...", err)
				redisQueue = nil
			} else {
				logrus.Info("Redis queue initialized")
				taskPublisher = service.NewQueueAdapter(redisQueue)
			}
		}
	}

	// Domain events
	publisher := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer publisher.Close()

	// Initialize services
	loc := cfg.Reservation.Location()
	directNotifier := service.NewNotificationSender(mailSender, messageSender, reservationRepo, loc)

	notifier := directNotifier
	if taskPublisher != nil {
		notifier = service.NewQueuedNotifier(taskPublisher, cfg.Worker.TaskMaxRetries)
	}

	quota := service.NewQuotaChecker(borrowRepo, cfg.Reservation.MaxActivity)
	codes := service.NewCodeGenerator(reservationRepo, loc)

	assignmentService := service.NewAssignmentService(
		txManager, reservationRepo, itemRepo, userRepo,
		quota, codes, notifier, publisher, cfg.Reservation,
	)
	dispatcher := service.NewReturnDispatcher(taskPublisher, assignmentService, cfg.Worker.TaskMaxRetries)
	reservationService := service.NewReservationService(
		txManager, reservationRepo, itemRepo, userRepo, borrowRepo,
		quota, assignmentService, dispatcher, publisher, cfg.Reservation,
	)

	// Start queue consumer
	if redisQueue != nil {
		taskHandler := worker.NewTaskHandler(assignmentService, directNotifier)
		if err := redisQueue.Subscribe(context.Background(), taskHandler.HandleTask); err != nil {
			logrus.Errorf("Queue subscriber error: %v", err)
		} else {
			logrus.Info("Queue subscriber started")
		}
	}

	// Initialize and start scheduler
	sweepScheduler := scheduler.NewScheduler(ctx)
	sweepWorker := worker.NewSweepWorker(assignmentService, taskPublisher)
	if cfg.Worker.SweepCron != "" {
		if err := sweepWorker.Register(sweepScheduler, cfg.Worker.SweepCron); err != nil {
			logrus.Fatalf("Failed to schedule sweep: %v", err)
		}
	}
	sweepScheduler.Start()
	logrus.Info("Sweep scheduler started")

	// Initialize handlers
	reservationHandler := transport.NewReservationHandler(reservationService, assignmentService, dispatcher)
	var queueHandler *transport.QueueHandler
	if redisQueue != nil {
		queueHandler = transport.NewQueueHandler(redisQueue)
	} else {
		queueHandler = transport.NewQueueHandler(nil)
	}

	// Setup HTTP server
	if cfg.IsProduction() || cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := transport.InitRoutes(reservationHandler, queueHandler, []byte(cfg.JWT.Secret), cfg.Server.Timeout)

	srv := new(Server)
	go func() {
		if err := srv.Run(cfg, router); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("error occured while running http server: %s", err.Error())
		}
	}()

	logrus.WithField("version", cfg.Server.AppVersion).Print("App Started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	logrus.Print("App Shutting Down")

	shutdownTimeout := cfg.Worker.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("error occured on server shutting down: %s", err.Error())
	}

	sweepScheduler.Stop()
	cancel()

	if redisQueue != nil {
		if err := redisQueue.Close(); err != nil {
			logrus.Errorf("error occured on queue shutting down: %s", err.Error())
		}
	}
}
