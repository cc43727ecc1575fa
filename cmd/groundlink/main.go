// Command groundlink is the operator console of the launch-control ground
// station. It drives the stand controller over a half-duplex radio serial
// link, records the session to the audit database, raises desktop alerts and
// optionally mirrors range events to an MQTT broker.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"groundlink/internal/alert"
	"groundlink/internal/app"
	"groundlink/internal/audit"
	"groundlink/internal/bridge"
	"groundlink/internal/bus"
	"groundlink/internal/config"
	"groundlink/internal/e32"
	"groundlink/internal/link"
	"groundlink/internal/logging"
	"groundlink/internal/platform"
	"groundlink/internal/standsim"
	"groundlink/internal/station"
	"groundlink/internal/telemetry"
	"groundlink/internal/transport"
)

func main() {
	if err := run(); err != nil {
		slog.Error("run groundlink", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "config file path (default: user config dir)")
	serialPort := flag.String("port", "", "serial port override")
	dryRun := flag.Bool("dry-run", false, "run against an in-process simulated stand, no hardware needed")
	logLevel := flag.String("log-level", "", "log level override: debug, info, warn, error")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths, err := app.ResolvePaths()
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	cfgFile := paths.ConfigFile
	if strings.TrimSpace(*configPath) != "" {
		cfgFile = strings.TrimSpace(*configPath)
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(*serialPort) != "" {
		cfg.Connection.SerialPort = strings.TrimSpace(*serialPort)
	}
	if strings.TrimSpace(*logLevel) != "" {
		cfg.Logging.Level = strings.TrimSpace(*logLevel)
	}
	if !*dryRun {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}
	local, remote, err := cfg.Nodes()
	if err != nil {
		return err
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() {
		if closeErr := logMgr.Close(); closeErr != nil {
			slog.Warn("close log manager", "error", closeErr)
		}
	}()
	logger := logMgr.Logger("cli")
	logger.Info("starting groundlink",
		"version", app.BuildVersion(), "build_date", app.BuildDateYMD(), "dry_run", *dryRun)

	b := bus.New(logMgr.Logger("bus"))
	defer b.Close()

	store := telemetry.NewStore()

	var (
		transitions *audit.TransitionRepo
		events      *audit.LinkEventRepo
	)
	if cfg.Audit.Enabled {
		dbPath := cfg.Audit.Path
		if !filepath.IsAbs(dbPath) {
			dbPath = filepath.Join(paths.RootDir, dbPath)
		}
		db, err := audit.Open(ctx, dbPath)
		if err != nil {
			return fmt.Errorf("open audit db: %w", err)
		}
		defer func() {
			if closeErr := db.Close(); closeErr != nil {
				logger.Warn("close audit db", "error", closeErr)
			}
		}()
		queue := audit.NewWriterQueue(logMgr.Logger("audit"), 256)
		queue.Start(ctx)
		transitions = audit.NewTransitionRepo(db)
		events = audit.NewLinkEventRepo(db)
		audit.StartRecorder(ctx, b, queue, transitions, events, audit.NewFrameRepo(db), audit.NewSampleRepo(db))
		logger.Info("audit log enabled", "path", dbPath)
	}

	if cfg.Bridge.Enabled {
		brokerURL, err := bridgeURL(cfg.Bridge)
		if err != nil {
			return err
		}
		br, err := bridge.New(logMgr.Logger("bridge"), brokerURL)
		if err != nil {
			return fmt.Errorf("bridge: %w", err)
		}
		br.Start(ctx, b)
		defer br.Stop()
	}

	if cfg.Alerts.Enabled {
		alert.NewService(b, alert.NewDesktopSender(logMgr.Logger("alert")), logMgr.Logger("alert")).Start(ctx)
	}

	readTimeout := time.Duration(cfg.Connection.ReadTimeoutMS) * time.Millisecond
	var (
		tr      transport.Transport
		sim     *standsim.Simulator
		simDone = make(chan struct{})
	)
	if *dryRun {
		groundEnd, standEnd := transport.NewLoopbackPair(readTimeout)
		sim = standsim.New(logMgr.Logger("standsim"), standEnd, standsim.Config{
			Node:   remote,
			Ground: local,
		})
		go func() {
			defer close(simDone)
			if simErr := sim.Run(ctx); simErr != nil && !errors.Is(simErr, context.Canceled) {
				logger.Warn("stand simulator stopped", "error", simErr)
			}
		}()
		tr = groundEnd
	} else {
		close(simDone)
		lock, lockErr := platform.AcquirePortLock(app.Name, cfg.Connection.SerialPort)
		switch {
		case errors.Is(lockErr, platform.ErrPortLocked):
			return fmt.Errorf("serial port %s is held by another ground station instance", cfg.Connection.SerialPort)
		case errors.Is(lockErr, platform.ErrPortLockUnsupported):
			logger.Debug("port locking not supported on this platform", "error", lockErr)
		case lockErr != nil:
			return fmt.Errorf("acquire port lock: %w", lockErr)
		default:
			defer func() {
				if relErr := lock.Release(); relErr != nil {
					logger.Warn("release port lock", "error", relErr)
				}
			}()
		}
		tr = transport.NewSerialTransport(cfg.Connection.SerialPort, cfg.Connection.SerialBaud, readTimeout)
	}

	stationCfg := station.Config{
		Local:  local,
		Remote: remote,
		Link: link.Config{
			RetryTimeout: time.Duration(cfg.Link.RetryTimeoutMS) * time.Millisecond,
			MaxRetries:   cfg.Link.MaxRetries,
			QueueLimit:   cfg.Link.QueueLimit,
		},
		SubmitTimeout:     time.Duration(cfg.Link.SubmitTimeoutMS) * time.Millisecond,
		KeepaliveInterval: time.Duration(cfg.Link.KeepaliveIntervalMS) * time.Millisecond,
		CountdownTicks:    cfg.Sequencer.CountdownTicks,
		TickInterval:      time.Duration(cfg.Sequencer.TickIntervalMS) * time.Millisecond,
		IgnitionTimeout:   time.Duration(cfg.Sequencer.IgnitionTimeoutMS) * time.Millisecond,
		MinBatteryVolts:   cfg.Telemetry.MinBatteryVolts,
		Freshness:         time.Duration(cfg.Telemetry.FreshnessWindowMS) * time.Millisecond,
	}
	if !*dryRun && cfg.Connection.ProgramRadio {
		params := e32.Default()
		params.Address = cfg.Radio.Address
		params.Channel = cfg.Radio.Channel
		stationCfg.Radio = &params
	}

	svc := station.NewService(logMgr.Logger("station"), b, tr, store, stationCfg)
	svc.Start(ctx)

	shell := newConsole(consoleDeps{
		svc:         svc,
		store:       store,
		sim:         sim,
		transitions: transitions,
		events:      events,
		outcomeWait: outcomeWait(cfg.Link),
	})
	go func() {
		<-ctx.Done()
		shell.Stop()
	}()

	if args := flag.Args(); len(args) > 0 {
		waitConnected(ctx, svc, 5*time.Second)
		err = shell.Process(args...)
	} else {
		shell.Run()
		err = nil
	}

	stop()
	<-svc.Done()
	<-simDone

	return err
}

// bridgeURL folds the standalone client-id and topic-prefix settings into the
// broker URL; values already present in the URL win.
func bridgeURL(cfg config.BridgeConfig) (string, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.BrokerURL))
	if err != nil {
		return "", fmt.Errorf("bridge broker url: %w", err)
	}
	if strings.Trim(u.Path, "/") == "" && strings.TrimSpace(cfg.TopicPrefix) != "" {
		u.Path = "/" + strings.TrimSpace(cfg.TopicPrefix)
	}
	q := u.Query()
	if q.Get("client-id") == "" && strings.TrimSpace(cfg.ClientID) != "" {
		q.Set("client-id", strings.TrimSpace(cfg.ClientID))
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

// outcomeWait bounds how long a console command waits for its delivery
// handle to resolve. The full retry budget plus one spare round always fits.
func outcomeWait(cfg config.LinkConfig) time.Duration {
	retry := time.Duration(cfg.RetryTimeoutMS) * time.Millisecond
	if retry <= 0 {
		retry = time.Duration(config.DefaultRetryTimeoutMS) * time.Millisecond
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = config.DefaultMaxRetries
	}

	return retry * time.Duration(retries+2)
}

func waitConnected(ctx context.Context, svc *station.Service, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) && ctx.Err() == nil {
		if svc.Connected() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}
