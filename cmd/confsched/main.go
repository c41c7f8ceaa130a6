package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"confsched/internal/alarm"
	"confsched/internal/bookmarks"
	"confsched/internal/config"
	"confsched/internal/feed"
	appLog "confsched/internal/log"
	"confsched/internal/refresh"
	"confsched/internal/store"
	"confsched/internal/web"
)

const version = "0.1.0-dev"

type flagConfig struct {
	configPath string
	listen     string
	logLevel   string
	once       bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.Resolve(flags.configPath)

	// CLI flags override the config file when set.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("confsched starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"db_path", conf.DBPath,
		"refresh", conf.RefreshCron,
		"live_tick", conf.LiveTick,
		"timezone", conf.Timezone,
		"notify", conf.Notify,
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf, flags.once); err != nil {
		appLog.Error("confsched failed", err)
		os.Exit(1)
	}
	appLog.Info("confsched exiting")
}

func run(ctx context.Context, conf *config.Config, once bool) error {
	st, err := store.Open(ctx, conf.DBPath, store.Options{ReadPoolSize: conf.ReadPoolSize})
	if err != nil {
		return err
	}
	defer st.Close()

	loc := conf.Location()

	if once {
		job := refresh.NewJob(st, feed.NewFetcher(nil), nil, conf.FeedURL, loc)
		n, err := job.RunOnce(ctx)
		if err != nil {
			return err
		}
		appLog.Info("single refresh finished", "events", n)
		return nil
	}

	prefs, err := config.LoadPreferences(conf.PrefsPath)
	if err != nil {
		return err
	}

	notifier := newNotifier(conf)
	if c, ok := notifier.(interface{ Close() error }); ok {
		defer c.Close()
	}

	var manager *alarm.Manager
	scheduler := alarm.NewTimerScheduler(func(eventID int64) {
		manager.Deliver(alarm.AlarmFired{EventID: eventID})
	})
	manager = alarm.NewManager(ctx, st, prefs, scheduler, notifier)
	// Timers do not survive a restart; treat startup like a reboot.
	manager.Deliver(alarm.DeviceRebooted{})

	job := refresh.NewJob(st, feed.NewFetcher(nil), manager, conf.FeedURL, loc)
	if conf.FeedURL != "" {
		go func() {
			if _, err := job.RunOnce(ctx); err != nil {
				appLog.Error("initial refresh failed", err)
			}
		}()
		stop, err := job.Start(ctx, conf.RefreshCron)
		if err != nil {
			return err
		}
		defer stop()
	} else {
		appLog.Warn("feed_url is empty; schedule refresh disabled")
	}

	srv := web.NewServer(ctx, conf, web.Deps{
		Store:     st,
		Bookmarks: bookmarks.NewService(st, manager, conf.AppID, version),
		Prefs:     prefs,
		Alarms:    manager,
		Refresh:   job,
	})
	httpSrv := &http.Server{
		Addr:              conf.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP shutdown failed", err)
	}
	return nil
}

func newNotifier(conf *config.Config) alarm.Notifier {
	if conf.Notify == "log" {
		return alarm.LogNotifier{}
	}
	n, err := alarm.NewDBusNotifier(conf.AppID)
	if err != nil {
		appLog.Error("dbus unavailable; alarms will be logged", err)
		return alarm.LogNotifier{}
	}
	return n
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/confsched/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: DEBUG, INFO, WARN, ERROR (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Refresh the schedule once and exit")

	flag.Parse()

	return cfg
}
