package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/training-enrollment-api/api/swagger"
	"github.com/noah-isme/training-enrollment-api/internal/handler"
	"github.com/noah-isme/training-enrollment-api/internal/middleware"
	"github.com/noah-isme/training-enrollment-api/internal/models"
	"github.com/noah-isme/training-enrollment-api/internal/repository"
	"github.com/noah-isme/training-enrollment-api/internal/service"
	_ "github.com/noah-isme/training-enrollment-api/migrations"
	"github.com/noah-isme/training-enrollment-api/pkg/cache"
	"github.com/noah-isme/training-enrollment-api/pkg/config"
	"github.com/noah-isme/training-enrollment-api/pkg/database"
	"github.com/noah-isme/training-enrollment-api/pkg/events"
	"github.com/noah-isme/training-enrollment-api/pkg/jobs"
	"github.com/noah-isme/training-enrollment-api/pkg/lock"
	"github.com/noah-isme/training-enrollment-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/training-enrollment-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/training-enrollment-api/pkg/middleware/requestid"
)

// cacheNamespace prefixes every Redis key written by this service.
const cacheNamespace = "training-enrollment"

// @title Training Enrollment API
// @version 1.0.0
// @description Enrollment, waitlist and booking window management for trainings
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}
	switch command {
	case "serve":
		err = serve(cfg, logr)
	case "migrate":
		err = migrate(cfg, os.Args[2:])
	case "token":
		err = issueToken(cfg, os.Args[2:])
	default:
		err = fmt.Errorf("unknown command %q (want serve, migrate or token)", command)
	}
	if err != nil {
		logr.Sugar().Fatalw("command failed", "command", command, "error", err)
	}
}

func serve(cfg *config.Config, logr *zap.Logger) error {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(context.Background(), cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := service.NewMetricsService()

	var cacheSvc *service.CacheService
	if cfg.Capacity.CacheEnabled {
		redisClient, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, capacity cache disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			cacheSvc = service.NewCacheService(repository.NewCacheRepository(redisClient, cacheNamespace, logr), metrics, cfg.Capacity.CacheTTL, logr)
		}
	}

	publisher, err := newPublisher(cfg, logr)
	if err != nil {
		return err
	}
	defer publisher.Close() //nolint:errcheck

	notifications := service.NewNotificationService(publisher, service.NotificationConfig{
		SubjectPrefix: cfg.Notifications.SubjectPrefix,
		Workers:       cfg.Notifications.Workers,
		Retries:       cfg.Notifications.Retries,
		RetryDelay:    cfg.Notifications.RetryDelay,
	}, metrics, logr)
	notifications.Start(ctx)
	defer notifications.Stop()

	trainingRepo := repository.NewTrainingRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)

	capacitySvc := service.NewCapacityService(trainingRepo, enrollmentRepo, cacheSvc, cfg.Capacity.CacheTTL, logr)
	capacitySvc.PurgeAll(ctx)
	policy := service.NewBookingWindowPolicy(models.BookingWindowConfig{
		MaxBookings:            cfg.BookingWindow.MaxBookings,
		WindowDuration:         cfg.BookingWindow.WindowDuration,
		GracePeriodBeforeStart: cfg.BookingWindow.GracePeriod,
	}, time.Now)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, studentRepo, trainingRepo, policy, notifications,
		capacitySvc, metrics, validator.New(), logr, service.EnrollmentServiceConfig{})
	rosterSvc := service.NewRosterService(trainingRepo, enrollmentRepo, logr, nil, nil)
	expirySvc := service.NewInvitationExpiryService(enrollmentRepo, trainingRepo, enrollmentSvc, cfg.Waitlist.InviteTTL, time.Now, logr)
	registry, err := service.NewTaskRegistry(expirySvc.Tasks())
	if err != nil {
		return fmt.Errorf("build task registry: %w", err)
	}
	authSvc := service.NewAuthService(logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.TokenTTL,
		Issuer:            cfg.JWT.Issuer,
	})

	if cfg.Waitlist.SchedulerOn {
		scheduler := newScheduler(db, cfg, registry, metrics, logr)
		go scheduler.Run(ctx)
	}

	router := newRouter(cfg, logr, routerDeps{
		auth:        authSvc,
		metrics:     metrics,
		db:          db,
		enrollments: handler.NewEnrollmentHandler(enrollmentSvc, rosterSvc),
		bookings:    handler.NewBookingHandler(enrollmentSvc, capacitySvc),
		tasks:       handler.NewTaskHandler(registry),
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type routerDeps struct {
	auth        *service.AuthService
	metrics     *service.MetricsService
	db          handler.Pinger
	enrollments *handler.EnrollmentHandler
	bookings    *handler.BookingHandler
	tasks       *handler.TaskHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.metrics))

	metricsHandler := handler.NewMetricsHandler(deps.metrics, deps.db)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	admin := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin)

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(deps.auth), middleware.WithResponseMeta())

	trainings := api.Group("/trainings/:id")
	trainings.GET("/enrollments", admin, deps.enrollments.List)
	trainings.POST("/enrollments", deps.enrollments.Create)
	trainings.DELETE("/enrollments/:studentId", middleware.RBAC("SUPERADMIN", "ADMIN", "SELF"),
		middleware.Audit(logr, "cancel", "enrollment"), deps.enrollments.Delete)
	trainings.POST("/enrollments/:studentId/actions", middleware.Audit(logr, "action", "enrollment"), deps.enrollments.Action)
	trainings.POST("/bulk-move", admin, middleware.Audit(logr, "bulk-move", "enrollment"), deps.enrollments.BulkMove)
	trainings.GET("/roster", admin, deps.enrollments.Export)
	trainings.GET("/can-book", deps.bookings.CanBook)
	trainings.GET("/capacity", deps.bookings.Capacity)

	api.GET("/students/:studentId/bookable-trainings", middleware.RBAC("SUPERADMIN", "ADMIN", "SELF"), deps.bookings.Bookable)

	adminGroup := api.Group("/admin", admin)
	adminGroup.GET("/tasks", deps.tasks.List)
	adminGroup.POST("/tasks/:name", middleware.Audit(logr, "run-task", "task"), deps.tasks.Run)
	adminGroup.GET("/metrics/snapshot", metricsHandler.Snapshot)

	return r
}

func newPublisher(cfg *config.Config, logr *zap.Logger) (events.Publisher, error) {
	if !cfg.Notifications.Enabled {
		return events.NewLogPublisher(logr), nil
	}
	publisher, err := events.NewNatsPublisher(cfg.Notifications.NATSURL, "training-enrollment-api", logr)
	if err != nil {
		return nil, err
	}
	return publisher, nil
}

func newScheduler(db *sqlx.DB, cfg *config.Config, registry *service.TaskRegistry, metrics *service.MetricsService, logr *zap.Logger) *jobs.Scheduler {
	intervals := map[service.TaskKind]time.Duration{
		service.TaskExpireInvitations: cfg.Waitlist.ExpiryInterval,
		service.TaskCascadeWaitlists:  cfg.Waitlist.SweepInterval,
	}
	tasks := make([]jobs.Task, 0, len(intervals))
	for _, kind := range registry.Kinds() {
		name := string(kind)
		tasks = append(tasks, jobs.Task{
			Name:     name,
			Interval: intervals[kind],
			Run:      func(ctx context.Context) error { return registry.Dispatch(ctx, name) },
		})
	}
	leader := lock.NewAdvisoryLock(db, cfg.Waitlist.LeaderLockKey)
	return jobs.NewScheduler(leader, jobs.SchedulerConfig{Logger: logr, OnRun: metrics.RecordTaskRun}, tasks...)
}

func migrate(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	direction := fs.Arg(0)
	if direction == "" {
		direction = "up"
	}

	db, err := database.NewPostgres(context.Background(), cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	switch direction {
	case "up":
		return goose.Up(db.DB, ".")
	case "down":
		return goose.Down(db.DB, ".")
	case "status":
		return goose.Status(db.DB, ".")
	default:
		return fmt.Errorf("unknown migrate direction %q", direction)
	}
}

func issueToken(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	userID := fs.String("user", "", "user id")
	role := fs.String("role", string(models.RoleStudent), "SUPERADMIN, ADMIN, TRAINER or STUDENT")
	studentID := fs.String("student", "", "student id, required for STUDENT")
	email := fs.String("email", "", "email")
	if err := fs.Parse(args); err != nil {
		return err
	}

	authSvc := service.NewAuthService(nil, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.TokenTTL,
		Issuer:            cfg.JWT.Issuer,
	})
	token, expires, err := authSvc.IssueToken(service.Principal{
		UserID:    *userID,
		Role:      models.UserRole(*role),
		Email:     *email,
		StudentID: *studentID,
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s\n# expires %s\n", token, expires.Format(time.RFC3339))
	return nil
}
