package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/helmsman/internal/clients/statefile"
	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/database"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/modules/allocation"
	allochandlers "github.com/aristath/helmsman/internal/modules/allocation/handlers"
	"github.com/aristath/helmsman/internal/modules/cooldown"
	"github.com/aristath/helmsman/internal/modules/opportunities"
	"github.com/aristath/helmsman/internal/modules/sequences"
	"github.com/aristath/helmsman/internal/modules/sequences/filters"
	"github.com/aristath/helmsman/internal/planner"
	"github.com/aristath/helmsman/internal/reliability"
	"github.com/aristath/helmsman/internal/scheduler"
	"github.com/aristath/helmsman/internal/server"
	"github.com/aristath/helmsman/pkg/logger"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger is not up yet, write plainly and exit
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.DevMode)
	logger.SetGlobalLogger(log)

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting Helmsman")

	// Databases: durable configuration and ephemeral cache
	configDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "config.db"),
		Profile: database.ProfileStandard,
		Name:    "config",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open config database")
	}
	defer configDB.Close()

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	for _, db := range []*database.DB{configDB, cacheDB} {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
	}
	databases := map[string]*database.DB{
		"config": configDB,
		"cache":  cacheDB,
	}

	// Event fan-out
	broadcaster := events.NewBroadcaster(log)
	invalidations := events.NewInvalidationBroadcaster(log)

	// Collaborator inputs arrive as drop files in the data directory
	collaborators := statefile.New(cfg.DataDir, log)

	allocRepo := allocation.NewRepository(configDB.Conn(), log)

	plan := planner.New(cfg.Planning, planner.Deps{
		Portfolio:     collaborators,
		Universe:      collaborators,
		Performance:   collaborators,
		AllocRepo:     allocRepo,
		CooldownCalc:  cooldown.NewCalculator(log),
		CooldownStore: cooldown.NewStore(configDB.Conn(), log),
		Detector:      opportunities.New(cfg.Planning.MinDeviation, log),
		Generator:     sequences.NewGenerator(log),
		Pipeline:      filters.NewPipeline(log),
		StatusRepo:    planner.NewStatusRepository(cacheDB.Conn(), log),
		Broadcaster:   broadcaster,
		Invalidations: invalidations,
	}, log)
	defer plan.Stop()

	// Background jobs
	sched := scheduler.New(log)
	if err := registerJobs(sched, cfg, plan, databases, log); err != nil {
		log.Fatal().Err(err).Msg("Failed to register jobs")
	}
	sched.Start()
	defer sched.Stop()

	// HTTP server
	srv := server.New(server.Config{
		Port:              cfg.Port,
		DevMode:           cfg.DevMode,
		Log:               log,
		Planner:           plan,
		AllocationHandler: allochandlers.NewHandler(allocRepo, collaborators, broadcaster, log),
		EventsStream:      server.NewEventsStreamHandler(broadcaster, log),
		Invalidations:     server.NewInvalidationStreamHandler(invalidations, log),
		Optimizer:         server.NewOptimizerHandler(collaborators, collaborators, log),
		System:            server.NewSystemHandlers(databases, cfg.DataDir, sched, log),
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

// registerJobs wires the planning tick and, when credentials are
// configured, the nightly R2 backup.
func registerJobs(
	sched *scheduler.Scheduler,
	cfg *config.Config,
	plan *planner.Planner,
	databases map[string]*database.DB,
	log zerolog.Logger,
) error {
	if err := sched.AddJob(cfg.Planning.Schedule, scheduler.NewPlanningJob(plan, log)); err != nil {
		return err
	}

	if !cfg.Backup.Enabled {
		log.Info().Msg("R2 backups disabled, credentials not configured")
		return nil
	}

	r2Client, err := reliability.NewR2Client(
		context.Background(),
		cfg.Backup.AccountID,
		cfg.Backup.AccessKeyID,
		cfg.Backup.SecretAccessKey,
		cfg.Backup.Bucket,
		log,
	)
	if err != nil {
		return err
	}

	backupService := reliability.NewBackupService(databases, filepath.Join(cfg.DataDir, "backups"), log)
	r2Backup := reliability.NewR2BackupService(r2Client, backupService, cfg.DataDir, log)

	if err := sched.AddJob(cfg.Backup.Schedule, reliability.NewDailyBackupJob(backupService)); err != nil {
		return err
	}
	return sched.AddJob(cfg.Backup.Schedule, reliability.NewR2BackupJob(r2Backup, 30))
}
