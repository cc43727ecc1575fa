package station

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"groundlink/internal/bus"
	"groundlink/internal/link"
	"groundlink/internal/protocol"
	"groundlink/internal/sequencer"
	"groundlink/internal/standsim"
	"groundlink/internal/telemetry"
	"groundlink/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fastConfig shrinks every timer so a full launch sequence completes in a
// few hundred milliseconds.
func fastConfig() Config {
	return Config{
		Local:  protocol.LaunchControl,
		Remote: protocol.RedQueen('A'),
		Link: link.Config{
			RetryTimeout: 50 * time.Millisecond,
			MaxRetries:   2,
		},
		SubmitTimeout:   time.Second,
		CountdownTicks:  2,
		TickInterval:    30 * time.Millisecond,
		IgnitionTimeout: 500 * time.Millisecond,
	}
}

func fastSimConfig() standsim.Config {
	return standsim.Config{TelemetryInterval: 15 * time.Millisecond}
}

type stackHarness struct {
	svc    *Service
	store  *telemetry.Store
	sim    *standsim.Simulator
	ground *transport.Loopback

	states  bus.Subscription
	links   bus.Subscription
	conns   bus.Subscription
	rawOut  bus.Subscription
}

// startStack runs a station against the simulated stand over an in-memory
// pipe and subscribes to its event topics before anything can be published.
func startStack(t *testing.T, cfg Config, simCfg standsim.Config) *stackHarness {
	t.Helper()
	logger := testLogger()
	b := bus.New(logger)

	ground, stand := transport.NewLoopbackPair(5 * time.Millisecond)
	store := telemetry.NewStore()
	svc := NewService(logger, b, ground, store, cfg)
	sim := standsim.New(logger, stand, simCfg)

	h := &stackHarness{
		svc:    svc,
		store:  store,
		sim:    sim,
		ground: ground,
		states: b.Subscribe(TopicLaunchState),
		links:  b.Subscribe(TopicLinkEvent),
		conns:  b.Subscribe(TopicConnStatus),
		rawOut: b.Subscribe(TopicRawFrameOut),
	}

	ctx, cancel := context.WithCancel(context.Background())
	simDone := make(chan struct{})
	go func() {
		defer close(simDone)
		_ = sim.Run(ctx)
	}()
	svc.Start(ctx)

	t.Cleanup(func() {
		cancel()
		<-simDone
	})

	return h
}

func (h *stackHarness) waitTelemetry(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_, okBattery := h.store.Latest(telemetry.ChannelBattery)
		_, okPyro := h.store.Latest(telemetry.ChannelPyro)
		if okBattery && okPyro {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("telemetry never arrived")
}

func (h *stackHarness) submitAcked(t *testing.T, kind protocol.Kind) {
	t.Helper()
	handle, err := h.svc.Submit(context.Background(), kind)
	if err != nil {
		t.Fatalf("submit %s: %v", kind, err)
	}
	if res := awaitOutcome(t, handle, 2*time.Second); res.Outcome != link.OutcomeAcked {
		t.Fatalf("%s outcome = %s, want acked", kind, res.Outcome)
	}
}

func awaitOutcome(t *testing.T, h *link.Handle, timeout time.Duration) link.Result {
	t.Helper()
	select {
	case res := <-h.Outcome():
		return res
	case <-time.After(timeout):
		t.Fatalf("%s handle unresolved", h.Kind())
		return link.Result{}
	}
}

func awaitState(t *testing.T, ch bus.Subscription, want sequencer.State, timeout time.Duration) sequencer.Transition {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-ch:
			if tr, ok := msg.(sequencer.Transition); ok && tr.To == want {
				return tr
			}
		case <-deadline:
			t.Fatalf("state %s never reached", want)
		}
	}
}

func awaitConn(t *testing.T, ch bus.Subscription, want ConnectionState, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-ch:
			if st, ok := msg.(ConnStatus); ok && st.State == want {
				return
			}
		case <-deadline:
			t.Fatalf("connection state %s never reached", want)
		}
	}
}

func awaitLinkEvent(t *testing.T, ch bus.Subscription, match func(LinkEvent) bool, timeout time.Duration) LinkEvent {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-ch:
			if ev, ok := msg.(LinkEvent); ok && match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("link event never seen")
		}
	}
}

func TestNominalLaunchSequence(t *testing.T) {
	h := startStack(t, fastConfig(), fastSimConfig())

	awaitConn(t, h.conns, ConnectionStateConnected, 2*time.Second)
	awaitLinkEvent(t, h.links, func(ev LinkEvent) bool { return ev.Type == LinkEventUp }, 2*time.Second)
	h.waitTelemetry(t)

	h.submitAcked(t, protocol.KindArm)
	if tr := awaitState(t, h.states, sequencer.StateArmed, 2*time.Second); tr.Cause != sequencer.CauseArm {
		t.Fatalf("armed cause = %q", tr.Cause)
	}

	// The first command on the wire carries sequence 001.
	frame := awaitRawFrame(t, h.rawOut, "$LNCCMD,", 2*time.Second)
	if !strings.HasPrefix(frame.Sentence, "$LNCCMD,001,RQA,ARM*") {
		t.Fatalf("first command frame = %q", frame.Sentence)
	}

	h.submitAcked(t, protocol.KindFire)
	awaitState(t, h.states, sequencer.StateCountdown, 2*time.Second)
	awaitState(t, h.states, sequencer.StateIgnition, 2*time.Second)

	ignited := awaitLinkEvent(t, h.links, func(ev LinkEvent) bool {
		return ev.Type == LinkEventResolved && ev.Kind == protocol.KindIgnite
	}, 2*time.Second)
	if ignited.Outcome != link.OutcomeAcked {
		t.Fatalf("ignition outcome = %s, want acked", ignited.Outcome)
	}

	if tr := awaitState(t, h.states, sequencer.StateFlight, 2*time.Second); tr.Cause != sequencer.CauseConfirm {
		t.Fatalf("flight cause = %q", tr.Cause)
	}
	if got := h.svc.LaunchState().To; got != sequencer.StateFlight {
		t.Fatalf("mirrored state = %s, want flight", got)
	}
}

func awaitRawFrame(t *testing.T, ch bus.Subscription, prefix string, timeout time.Duration) RawFrame {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-ch:
			if f, ok := msg.(RawFrame); ok && strings.HasPrefix(f.Sentence, prefix) {
				return f
			}
		case <-deadline:
			t.Fatalf("no frame with prefix %q", prefix)
		}
	}
}

func TestSubmitVetoes(t *testing.T) {
	h := startStack(t, fastConfig(), fastSimConfig())
	awaitConn(t, h.conns, ConnectionStateConnected, 2*time.Second)
	h.waitTelemetry(t)

	if _, err := h.svc.Submit(context.Background(), protocol.KindFire); !errors.Is(err, sequencer.ErrNotArmed) {
		t.Fatalf("unarmed fire: err = %v, want ErrNotArmed", err)
	}
	if _, err := h.svc.Submit(context.Background(), protocol.KindIgnite); err == nil {
		t.Fatal("direct ignition submit must be refused")
	}
	if _, err := h.svc.Submit(context.Background(), protocol.KindTelemetry); err == nil {
		t.Fatal("telemetry is not submittable")
	}
}

func TestSubmitWhileDisconnected(t *testing.T) {
	logger := testLogger()
	b := bus.New(logger)
	ground, _ := transport.NewLoopbackPair(5 * time.Millisecond)
	svc := NewService(logger, b, ground, telemetry.NewStore(), fastConfig())

	if _, err := svc.Submit(context.Background(), protocol.KindPing); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestOperatorAbortDuringCountdownAndRecycle(t *testing.T) {
	cfg := fastConfig()
	cfg.CountdownTicks = 10
	h := startStack(t, cfg, fastSimConfig())
	awaitConn(t, h.conns, ConnectionStateConnected, 2*time.Second)
	h.waitTelemetry(t)

	h.submitAcked(t, protocol.KindArm)
	h.submitAcked(t, protocol.KindFire)
	awaitState(t, h.states, sequencer.StateCountdown, 2*time.Second)

	handle, err := h.svc.Submit(context.Background(), protocol.KindAbort)
	if err != nil {
		t.Fatalf("submit abort: %v", err)
	}
	// The sequence stops locally before the stand's acknowledgement lands.
	if tr := awaitState(t, h.states, sequencer.StateAborted, time.Second); tr.Cause != sequencer.CauseAbort {
		t.Fatalf("aborted cause = %q", tr.Cause)
	}
	if res := awaitOutcome(t, handle, 2*time.Second); res.Outcome != link.OutcomeAcked {
		t.Fatalf("abort outcome = %s, want acked", res.Outcome)
	}

	// Recycle the pad: reset to idle, then arm again.
	h.submitAcked(t, protocol.KindReset)
	awaitState(t, h.states, sequencer.StateIdle, 2*time.Second)
	h.submitAcked(t, protocol.KindArm)
	awaitState(t, h.states, sequencer.StateArmed, 2*time.Second)
}

func TestRemoteAbortStopsCountdown(t *testing.T) {
	cfg := fastConfig()
	cfg.CountdownTicks = 10
	h := startStack(t, cfg, fastSimConfig())
	awaitConn(t, h.conns, ConnectionStateConnected, 2*time.Second)
	h.waitTelemetry(t)

	h.submitAcked(t, protocol.KindArm)
	h.submitAcked(t, protocol.KindFire)
	awaitState(t, h.states, sequencer.StateCountdown, 2*time.Second)

	h.sim.EStop()

	if tr := awaitState(t, h.states, sequencer.StateAborted, 2*time.Second); tr.Cause != sequencer.CauseAbort {
		t.Fatalf("aborted cause = %q", tr.Cause)
	}
	awaitLinkEvent(t, h.links, func(ev LinkEvent) bool {
		return ev.Type == LinkEventRemote && ev.Kind == protocol.KindAbort
	}, 2*time.Second)
}

func TestIgnitionConfirmTimeoutFaults(t *testing.T) {
	simCfg := fastSimConfig()
	simCfg.IgnitionDelay = time.Hour
	h := startStack(t, fastConfig(), simCfg)
	awaitConn(t, h.conns, ConnectionStateConnected, 2*time.Second)
	h.waitTelemetry(t)

	h.submitAcked(t, protocol.KindArm)
	h.submitAcked(t, protocol.KindFire)
	awaitState(t, h.states, sequencer.StateIgnition, 2*time.Second)

	if tr := awaitState(t, h.states, sequencer.StateFault, 3*time.Second); tr.Cause != sequencer.CauseTimeout {
		t.Fatalf("fault cause = %q", tr.Cause)
	}
	// The fault handler sends a best-effort abort to safe the stand.
	ev := awaitLinkEvent(t, h.links, func(ev LinkEvent) bool {
		return ev.Type == LinkEventResolved && ev.Kind == protocol.KindAbort
	}, 2*time.Second)
	if ev.Outcome != link.OutcomeAcked {
		t.Fatalf("safing abort outcome = %s, want acked", ev.Outcome)
	}
}

func TestTransportDropAbortsCountdown(t *testing.T) {
	cfg := fastConfig()
	cfg.CountdownTicks = 20
	h := startStack(t, cfg, fastSimConfig())
	awaitConn(t, h.conns, ConnectionStateConnected, 2*time.Second)
	h.waitTelemetry(t)

	h.submitAcked(t, protocol.KindArm)
	h.submitAcked(t, protocol.KindFire)
	awaitState(t, h.states, sequencer.StateCountdown, 2*time.Second)

	_ = h.ground.Close()

	if tr := awaitState(t, h.states, sequencer.StateAborted, 2*time.Second); tr.Cause != sequencer.CauseLinkDown {
		t.Fatalf("aborted cause = %q", tr.Cause)
	}
	awaitLinkEvent(t, h.links, func(ev LinkEvent) bool { return ev.Type == LinkEventLost }, 2*time.Second)
	awaitConn(t, h.conns, ConnectionStateReconnecting, 2*time.Second)
}

func TestKeepalivePing(t *testing.T) {
	cfg := fastConfig()
	cfg.KeepaliveInterval = 40 * time.Millisecond
	h := startStack(t, cfg, fastSimConfig())
	awaitConn(t, h.conns, ConnectionStateConnected, 2*time.Second)

	ev := awaitLinkEvent(t, h.links, func(ev LinkEvent) bool {
		return ev.Type == LinkEventResolved && ev.Kind == protocol.KindPing
	}, 2*time.Second)
	if ev.Outcome != link.OutcomeAcked {
		t.Fatalf("keepalive outcome = %s, want acked", ev.Outcome)
	}
}
