package app

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"surveyrun/internal/cache"
	"surveyrun/internal/config"
	"surveyrun/internal/repository"
	"surveyrun/internal/service"
	"surveyrun/internal/transport/rest"
	"surveyrun/internal/transport/rest/middleware"
	"surveyrun/internal/transport/ws"
)

const (
	pingTimeout  = 5 * time.Second
	limiterIdle  = 10 * time.Minute
	cleanupLimit = time.Minute
)

// App holds the wired stores, services and transports of one server process
type App struct {
	cfg *config.Config
	log zerolog.Logger

	SurveyRepo  repository.SurveyRepo
	Responses   repository.ResponseRepository
	Tables      repository.TableRepo
	Sessions    cache.SessionStore
	SurveyCache cache.SurveyCache

	SurveyService *service.SurveyService
	RunService    *service.RunService
	StepService   *service.StepService
	ExportService *service.ExportService

	WSHub       *ws.Hub
	RateLimiter *middleware.RateLimiter

	closers []func(context.Context) error
}

// Build connects the backing stores selected by cfg and wires the services.
// MODE_TEST keeps everything in process memory.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{cfg: cfg, log: log}

	if cfg.ModeTest {
		a.Responses = repository.NewMemoryResponseRepository()
		a.Sessions = cache.NewMemorySessionStore(cfg.SessionTTL)
		a.SurveyCache = cache.NewMemorySurveyCache()
		a.SurveyRepo = repository.NewSurveyFileRepo(cfg.SurveyDir)
		if cfg.SurveySource == config.SourceMongo {
			log.Warn().Msg("MODE_TEST ignores SURVEY_SOURCE=mongo, reading surveys from files")
		}
		log.Info().Str("surveys", cfg.SurveyDir).Msg("running with in-memory stores")
	} else {
		db, err := a.connectMongo(ctx)
		if err != nil {
			return nil, err
		}
		rdb, err := a.connectRedis(ctx)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}

		a.Responses = repository.NewResponseRepository(db)
		a.Sessions = cache.NewSessionCache(rdb, cfg.SessionTTL)
		a.SurveyCache = cache.NewSurveyCache(rdb, cfg.SurveyCacheTTL)
		if cfg.SurveySource == config.SourceMongo {
			a.SurveyRepo = repository.NewSurveyRepo(db)
		} else {
			a.SurveyRepo = repository.NewSurveyFileRepo(cfg.SurveyDir)
		}
	}
	a.Tables = repository.NewTableFileRepo(cfg.TableDir)

	a.WSHub = ws.NewHub(log.With().Str("component", "ws").Logger())
	a.closers = append(a.closers, func(context.Context) error {
		a.WSHub.Close()
		return nil
	})

	a.SurveyService = service.NewSurveyService(a.SurveyRepo, a.SurveyCache, log)
	a.RunService = service.NewRunService(a.SurveyService, a.Responses, log)
	a.StepService = service.NewStepService(a.SurveyService, a.Tables, log)
	a.ExportService = service.NewExportService(a.SurveyService, a.Responses, log)

	// Inject broadcaster (wsHub implements service.Broadcaster)
	a.RunService.SetBroadcaster(a.WSHub)

	if cfg.RateLimit > 0 {
		a.RateLimiter = middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	return a, nil
}

func (a *App) connectMongo(ctx context.Context) (*mongo.Database, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(a.cfg.MongoURI))
	if err != nil {
		return nil, errors.Wrap(err, "connect mongo")
	}
	a.closers = append(a.closers, client.Disconnect)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		a.Close(ctx)
		return nil, errors.Wrap(err, "ping mongo")
	}
	a.log.Info().Str("db", a.cfg.MongoDB).Msg("connected to MongoDB")
	return client.Database(a.cfg.MongoDB), nil
}

func (a *App) connectRedis(ctx context.Context) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr()})
	a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, errors.Wrap(err, "ping redis")
	}
	a.log.Info().Str("addr", a.cfg.RedisAddr()).Msg("connected to Redis")
	return rdb, nil
}

// Router builds the HTTP handler over the wired services
func (a *App) Router() http.Handler {
	return rest.NewRouter(&rest.Container{
		SurveyService:  a.SurveyService,
		RunService:     a.RunService,
		StepService:    a.StepService,
		ExportService:  a.ExportService,
		Sessions:       a.Sessions,
		WSHub:          a.WSHub,
		RateLimiter:    a.RateLimiter,
		Log:            a.log,
		SessionTTL:     a.cfg.SessionTTL,
		SecureCookies:  a.cfg.SecureCookies,
		AllowedOrigins: a.cfg.AllowedOrigins,
	})
}

// CleanupReport counts what one cleanup run removed
type CleanupReport struct {
	Responses int64
	Sessions  int
	Limiters  int
}

// Cleanup purges unfinished responses idle past ABANDONED_AFTER, expired
// in-memory sessions and idle rate limiters. Redis expires sessions itself.
func (a *App) Cleanup(ctx context.Context, now time.Time) (CleanupReport, error) {
	var report CleanupReport

	if mem, ok := a.Sessions.(*cache.MemorySessionStore); ok {
		report.Sessions = mem.Sweep(now)
	}
	if a.RateLimiter != nil {
		report.Limiters = a.RateLimiter.Cleanup(limiterIdle)
	}
	if a.cfg.AbandonedAfter > 0 {
		n, err := a.Responses.PurgeAbandoned(ctx, now.Add(-a.cfg.AbandonedAfter))
		if err != nil {
			return report, errors.Wrap(err, "purge abandoned responses")
		}
		report.Responses = n
	}
	return report, nil
}

// Schedule registers Cleanup on CLEANUP_CRON. The caller starts and stops the scheduler.
func (a *App) Schedule() (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(a.cfg.CleanupCron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupLimit)
		defer cancel()

		report, err := a.Cleanup(ctx, time.Now())
		if err != nil {
			a.log.Error().Err(err).Msg("cleanup failed")
			return
		}
		a.log.Info().
			Int64("responses", report.Responses).
			Int("sessions", report.Sessions).
			Int("limiters", report.Limiters).
			Msg("cleanup finished")
	})
	if err != nil {
		return nil, errors.Wrapf(err, "invalid CLEANUP_CRON %q", a.cfg.CleanupCron)
	}
	return c, nil
}

// Close releases connections in reverse order of acquisition
func (a *App) Close(ctx context.Context) error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
