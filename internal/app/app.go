package app

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/eduscan/exam-checker/grading-service/internal/config"
	"github.com/eduscan/exam-checker/grading-service/internal/delivery/httpd"
	"github.com/eduscan/exam-checker/grading-service/internal/repository"
	"github.com/eduscan/exam-checker/grading-service/internal/service"
	"github.com/eduscan/exam-checker/grading-service/internal/service/integration"
	"github.com/eduscan/exam-checker/grading-service/pkg/gradelog"
)

type App struct {
	server       *http.Server
	logger       zerolog.Logger
	config       *config.Config
	db           *sql.DB
	eventsClient integration.EventsClient
}

func New(cfg *config.Config, log zerolog.Logger, db *sql.DB) (*App, error) {
	// Журнал сессий грейдинга на диске
	gradeLog := gradelog.NewWriter(cfg.Grading.LogDir, log)

	// Создаем интеграционные клиенты
	completionClient := integration.NewOpenRouterClient(
		cfg.OpenRouter.BaseURL,
		cfg.OpenRouter.APIKey,
		cfg.OpenRouter.Referer,
		cfg.OpenRouter.AppTitle,
		cfg.OpenRouter.Timeout,
		cfg.OpenRouter.RetryCount,
		cfg.Grading.Debug,
		gradeLog,
		log,
	)

	var eventsClient integration.EventsClient
	if cfg.RabbitMQ.Enabled {
		client, err := integration.NewEventsClient(
			cfg.RabbitMQ.URL,
			cfg.RabbitMQ.Exchange,
			cfg.RabbitMQ.RoutingKey,
			cfg.RabbitMQ.QueueName,
			log,
		)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create RabbitMQ client")
			// Продолжаем без RabbitMQ, это допустимо для разработки
		} else {
			eventsClient = client
		}
	}

	// Создаем репозитории
	sessionRepo := repository.NewSessionRepository(db, log)
	imageRepo := repository.NewImageRepository(db, log)
	questionRepo := repository.NewQuestionRepository(db, log)
	resultRepo := repository.NewResultRepository(db, log)
	rubricRepo := repository.NewRubricRepository(db, log)
	tokenUsageRepo := repository.NewTokenUsageRepository(db, log)
	settingsRepo := repository.NewSettingsRepository(db, log)
	statsRepo := repository.NewStatsRepository(db, log)

	storageRepo, err := repository.NewStorageRepository(
		cfg.Storage.Endpoint,
		cfg.Storage.AccessKey,
		cfg.Storage.SecretKey,
		cfg.Storage.Bucket,
		cfg.Storage.Region,
		cfg.Storage.PublicURL,
		cfg.Storage.UseSSL,
		log,
	)
	if err != nil {
		return nil, err
	}

	// Создаем сервисы
	sessionService := service.NewSessionService(sessionRepo, log)
	imageService := service.NewImageService(sessionRepo, imageRepo, storageRepo, cfg.Storage.URLExpiry, log)
	questionService := service.NewQuestionService(sessionRepo, questionRepo, statsRepo, log)
	gradingService := service.NewGradingService(
		sessionRepo,
		imageRepo,
		questionRepo,
		resultRepo,
		rubricRepo,
		tokenUsageRepo,
		settingsRepo,
		completionClient,
		eventsClient,
		gradeLog,
		cfg.Grading,
		log,
	)
	resultsService := service.NewResultsService(sessionRepo, resultRepo, log)
	statsService := service.NewStatsService(sessionRepo, statsRepo, questionRepo, resultRepo, tokenUsageRepo, log)
	settingsService := service.NewSettingsService(settingsRepo, log)

	// Создаем обработчики
	handler := httpd.NewHandler(
		sessionService,
		imageService,
		questionService,
		gradingService,
		resultsService,
		statsService,
		settingsService,
		log,
	)

	// Создаем роутер
	router := chi.NewRouter()

	// Настраиваем middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	// Грейдинг с несколькими моделями идет дольше минуты
	router.Use(middleware.Timeout(10 * time.Minute))

	// Настраиваем CORS
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           cfg.CORS.MaxAge,
	}))

	// Регистрируем маршруты
	handler.RegisterRoutes(router)

	// Создаем HTTP сервер
	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &App{
		server:       server,
		logger:       log,
		config:       cfg,
		db:           db,
		eventsClient: eventsClient,
	}, nil
}

func (a *App) Run() error {
	a.logger.Info().Msgf("Starting grading service on %s", a.config.Server.Address)
	return a.server.ListenAndServe()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info().Msg("Shutting down grading service...")

	// Закрываем RabbitMQ соединение
	if a.eventsClient != nil {
		if err := a.eventsClient.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close RabbitMQ connection")
		}
	}

	// Закрываем соединение с БД
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close database connection")
		}
	}

	// Останавливаем сервер
	return a.server.Shutdown(ctx)
}
