// Command standsim serves a simulated rocket stand over a serial port so the
// ground station can be exercised without pyrotechnics on the pad.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"groundlink/internal/app"
	"groundlink/internal/config"
	"groundlink/internal/e32"
	"groundlink/internal/logging"
	"groundlink/internal/platform"
	"groundlink/internal/protocol"
	"groundlink/internal/standsim"
	"groundlink/internal/transport"
)

func main() {
	if err := run(); err != nil {
		slog.Error("run stand simulator", "error", err)
		os.Exit(1)
	}
}

func run() error {
	port := flag.String("port", "", "serial port of the stand-side radio modem")
	baud := flag.Int("baud", config.DefaultSerialBaud, "serial baud rate")
	node := flag.String("node", config.DefaultRemoteNode, "simulated stand address")
	ground := flag.String("ground", config.DefaultLocalNode, "ground station address")
	interval := flag.Duration("telemetry-interval", 500*time.Millisecond, "time between telemetry frames")
	ignitionDelay := flag.Duration("ignition-delay", 0, "delay before ignition detect reads nonzero, e.g. 200ms")
	program := flag.Bool("program", false, "program the modem to the default link plan before serving")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	if strings.TrimSpace(*port) == "" {
		return errors.New("missing serial port: set --port")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logMgr := logging.NewManager()
	if err := logMgr.Configure(config.LoggingConfig{Level: *logLevel}, ""); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() {
		if closeErr := logMgr.Close(); closeErr != nil {
			slog.Warn("close log manager", "error", closeErr)
		}
	}()
	logger := logMgr.Logger("cli")
	logger.Info("starting stand simulator", "version", app.BuildVersion(), "port", *port)

	standNode, err := protocol.ParseNode(*node)
	if err != nil {
		return fmt.Errorf("stand node: %w", err)
	}
	groundNode, err := protocol.ParseNode(*ground)
	if err != nil {
		return fmt.Errorf("ground node: %w", err)
	}

	// Same lock namespace as the ground station, so pointing both processes
	// at one port is caught here.
	lock, lockErr := platform.AcquirePortLock(app.Name, *port)
	switch {
	case errors.Is(lockErr, platform.ErrPortLocked):
		return fmt.Errorf("serial port %s is held by another process", *port)
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

	readTimeout := time.Duration(config.DefaultReadTimeoutMS) * time.Millisecond
	tr := transport.NewSerialTransport(*port, *baud, readTimeout)
	if err := tr.Connect(ctx); err != nil {
		return fmt.Errorf("open serial port: %w", err)
	}
	defer func() {
		if closeErr := tr.Close(); closeErr != nil {
			logger.Warn("close serial port", "error", closeErr)
		}
	}()

	if *program {
		serialPort, err := tr.Port()
		if err != nil {
			return err
		}
		if err := e32.NewProgrammer(logMgr.Logger("e32"), serialPort).Program(e32.Default()); err != nil {
			return fmt.Errorf("program radio: %w", err)
		}
	}

	sim := standsim.New(logMgr.Logger("standsim"), tr, standsim.Config{
		Node:              standNode,
		Ground:            groundNode,
		TelemetryInterval: *interval,
		IgnitionDelay:     *ignitionDelay,
	})
	logger.Info("serving simulated stand", "node", standNode.String(), "ground", groundNode.String())

	if err := sim.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}
