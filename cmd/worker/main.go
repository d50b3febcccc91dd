package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/remoodle/one/internal/config"
	"github.com/remoodle/one/internal/database"
	"github.com/remoodle/one/internal/jobs"
	"github.com/remoodle/one/internal/notify"
	"github.com/remoodle/one/internal/queue"
	"github.com/remoodle/one/internal/redis"
	"github.com/remoodle/one/internal/repository"
	portalsync "github.com/remoodle/one/internal/sync"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	setLogLevel(cfg.LogLevel)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	userRepo := repository.NewUserRepository(db.DB)
	courseRepo := repository.NewCourseRepository(db.DB)
	gradeRepo := repository.NewGradeRepository(db.DB)
	eventRepo := repository.NewEventRepository(db.DB)
	reminderRepo := repository.NewReminderRepository(db.DB)

	clientFactory := portalsync.NewClientFactory(cfg.MoodleURL, cfg.MSOnlineProxyURL, userRepo)
	syncService := portalsync.NewService(userRepo, courseRepo, gradeRepo, eventRepo, clientFactory, db)

	q := queue.New(redisClient.Client)
	limiter := queue.NewRateLimiter(redisClient.Client)

	dispatcher := notify.NewDispatcher(q, string(jobs.QueueTelegram), string(jobs.JobTelegramSend))
	telegram := notify.NewTelegramSender(cfg.TelegramToken)

	processors := jobs.NewProcessors(
		userRepo, courseRepo, eventRepo, reminderRepo,
		syncService, q, dispatcher, telegram,
	)

	var workers []*queue.Worker
	for name, reg := range processors.Registry() {
		var limit *queue.Limit
		if reg.RateLimited {
			limit = &queue.Limit{
				Limiter: limiter,
				Key:     string(reg.Queue),
				Max:     cfg.TelegramRatePerMin,
				Window:  config.DeliveryRateWindow,
			}
		}
		w := queue.NewWorker(q, string(reg.Queue), reg.Handler, reg.Concurrency, limit)
		w.Start()
		workers = append(workers, w)
		log.Info().Str("job", string(name)).Str("queue", string(reg.Queue)).
			Int("concurrency", reg.Concurrency).Msg("worker started")
	}

	scheduler := queue.NewScheduler(scheduleTasks(cfg, q))
	scheduler.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down worker")

	scheduler.Stop()
	for _, w := range workers {
		w.Stop()
	}

	log.Info().Msg("worker stopped")
}

// scheduleTasks binds each repeatable sync to its interval. The schedule
// jobs are deduplicated, so overlapping worker processes double-fire
// harmlessly.
func scheduleTasks(cfg *config.Config, q *queue.Queue) []queue.Task {
	repeatable := []struct {
		queue    jobs.QueueName
		job      jobs.JobName
		interval time.Duration
	}{
		{jobs.QueueSessionSync, jobs.JobSessionSchedule, cfg.SessionSyncInterval},
		{jobs.QueueEventsSync, jobs.JobEventsSchedule, cfg.EventsSyncInterval},
		{jobs.QueueCoursesSync, jobs.JobCoursesSchedule, cfg.CoursesSyncInterval},
		{jobs.QueueGradesSync, jobs.JobGradesSchedule, cfg.GradesSyncInterval},
	}

	tasks := make([]queue.Task, 0, len(repeatable))
	for _, r := range repeatable {
		tasks = append(tasks, queue.Task{
			Name:     string(r.job),
			Interval: r.interval,
			Enqueue: func(ctx context.Context) error {
				_, err := q.Enqueue(ctx, string(r.queue), string(r.job), nil,
					queue.Options{DedupKey: string(r.job)})
				return err
			},
		})
	}
	return tasks
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
