package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/USA-RedDragon/configulator"
	"github.com/USA-RedDragon/dapnet-tx/internal/beacon"
	"github.com/USA-RedDragon/dapnet-tx/internal/config"
	"github.com/USA-RedDragon/dapnet-tx/internal/queue"
	"github.com/USA-RedDragon/dapnet-tx/internal/scheduler"
	"github.com/USA-RedDragon/dapnet-tx/internal/spool"
	"github.com/USA-RedDragon/dapnet-tx/internal/timeslot"
	"github.com/USA-RedDragon/dapnet-tx/internal/transmitter"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/ztrue/shutdown"
)

func NewCommand(version, commit string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "dapnet-tx",
		Version: fmt.Sprintf("%s - %s", version, commit),
		Annotations: map[string]string{
			"version": version,
			"commit":  commit,
		},
		RunE:              runRoot,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
	}
	return cmd
}

func newLogger(level config.LogLevel) *slog.Logger {
	switch level {
	case config.LogLevelDebug:
		return slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelDebug}))
	case config.LogLevelWarn:
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelWarn}))
	case config.LogLevelError:
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelError}))
	default:
		return slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelInfo}))
	}
}

func runRoot(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	fmt.Printf("dapnet-tx - %s (%s)\n", cmd.Annotations["version"], cmd.Annotations["commit"])

	c, err := configulator.FromContext[config.Config](ctx)
	if err != nil {
		return fmt.Errorf("failed to get config from context")
	}

	cfg, err := c.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.SetDefault(newLogger(cfg.LogLevel))

	tx, err := transmitter.New(&cfg.Transmitter)
	if err != nil {
		return fmt.Errorf("failed to open transmitter: %w", err)
	}

	q := queue.New()

	sched := scheduler.New(q, tx, scheduler.Options{
		TxDelay:      time.Duration(cfg.Transmitter.TxDelay) * time.Millisecond,
		TickInterval: time.Duration(cfg.TickInterval) * time.Millisecond,
	})
	if err := sched.SetTimeSlots(cfg.Slots); err != nil {
		_ = tx.Close()
		return fmt.Errorf("failed to set time slots: %w", err)
	}
	if cfg.TimeCorrection != 0 {
		sched.CorrectTime(cfg.TimeCorrection)
	}
	sched.OnSlotChange(func(snap timeslot.Snapshot) {
		slog.Debug("slot changed", "time", sched.Time(), "slot", sched.Time().Slot(), "slots", snap.String())
	})

	beacons, err := beacon.New(cfg.Beacons, q, time.Local)
	if err != nil {
		_ = tx.Close()
		return fmt.Errorf("failed to set up beacons: %w", err)
	}

	var pageSpool *spool.Spool
	if cfg.Spool.Directory != "" {
		pageSpool = spool.New(cfg.Spool.Directory, q, cfg.Spool.Rate)
		if err := pageSpool.Start(context.Background()); err != nil {
			_ = tx.Close()
			return fmt.Errorf("failed to start spool: %w", err)
		}
	}

	sched.Start()
	beacons.Start()

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		slog.Warn("failed to notify systemd", "error", err)
	} else if ok {
		slog.Debug("notified systemd of readiness")
	}

	stop := func(sig os.Signal) {
		slog.Info("received signal, shutting down...", "signal", sig.String())
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

		beacons.Stop()
		if pageSpool != nil {
			pageSpool.Stop()
		}
		sched.Stop()
		if err := tx.Close(); err != nil {
			slog.Error("failed to close transmitter", "error", err)
		}
		if n := q.Clear(); n > 0 {
			slog.Warn("discarded queued pages", "count", n)
		}
	}

	shutdown.AddWithParam(stop)
	shutdown.Listen(syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)

	return nil
}
