package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jpkarvonen/villaged/internal/ambient"
	"github.com/jpkarvonen/villaged/internal/api"
	"github.com/jpkarvonen/villaged/internal/queue"
	"github.com/jpkarvonen/villaged/internal/sim"
	"github.com/jpkarvonen/villaged/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the simulation daemon",
		Run:   runDaemon,
	}

	RootCmd.AddCommand(cmd)
}

func runDaemon(cmd *cobra.Command, args []string) {
	log := slog.Default()

	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	cat, err := loadCatalog(cfg)
	if err != nil {
		exitErr("load catalog", err)
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			exitErr("create data dir", err)
		}
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()
	log.Info("database opened", "path", cfg.DBPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	q := queue.NewMemory()
	defer q.Close()
	go drainRenderJobs(ctx, q, log)

	sched := sim.NewScheduler(cfg, st, cat, q, ambient.NewCollector(st, cfg.Seed, log), log)

	apiServer := &api.Server{
		Store: st,
		Sched: sched,
		Port:  cfg.APIPort,
	}
	apiServer.Start()

	if err := sched.Run(ctx); err != nil {
		exitErr("run simulation", err)
	}
	log.Info("shut down", "next_tick", sched.Tick())
}

// drainRenderJobs consumes the queue where a rendering backend would. The
// daemon ships without one; what the village would say is logged, not
// written out.
func drainRenderJobs(ctx context.Context, q *queue.Memory, log *slog.Logger) {
	for {
		env, ok, err := q.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Error("render queue", "error", err)
			}
			return
		}
		if !ok {
			return
		}
		log.Info("render job",
			"job_id", env.ID,
			"channel", env.Job.Channel,
			"author", env.Job.AuthorID,
			"event", env.Job.SourceEventID)
	}
}
