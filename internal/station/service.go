package station

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"groundlink/internal/bus"
	"groundlink/internal/e32"
	"groundlink/internal/link"
	"groundlink/internal/nmea"
	"groundlink/internal/protocol"
	"groundlink/internal/sequencer"
	"groundlink/internal/telemetry"
	"groundlink/internal/transport"
)

var ErrNotConnected = errors.New("station: transport not connected")

// Config assembles the station tuning. Link.OnResolved is owned by the
// service and must be left unset.
type Config struct {
	Local  protocol.Node
	Remote protocol.Node

	Link              link.Config
	SubmitTimeout     time.Duration
	KeepaliveInterval time.Duration

	CountdownTicks  int
	TickInterval    time.Duration
	IgnitionTimeout time.Duration

	MinBatteryVolts float64
	Freshness       time.Duration

	// Radio, when set, is programmed into the modem after each connect.
	Radio *e32.Parameters
}

func (c Config) withDefaults() Config {
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 2 * time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.MinBatteryVolts <= 0 {
		c.MinBatteryVolts = telemetry.DefaultMinBatteryVolts
	}
	if c.Freshness <= 0 {
		c.Freshness = telemetry.DefaultFreshness
	}
	return c
}

// SubmitResult answers one operator submission: the delivery handle, or the
// veto/queue error that kept it off the wire.
type SubmitResult struct {
	Handle *link.Handle
	Err    error
}

type submitRequest struct {
	kind   protocol.Kind
	result chan SubmitResult
}

// Service owns the transport end to end. A single goroutine runs the read
// loop, the link session and the sequencer; other goroutines reach it
// through Submit and the bus.
type Service struct {
	logger    *slog.Logger
	bus       bus.MessageBus
	transport transport.Transport
	cfg       Config

	session *link.Session
	seq     *sequencer.Sequencer
	store   *telemetry.Store
	parser  *nmea.Parser

	intake    chan submitRequest
	connected atomic.Bool
	lastState atomic.Value // sequencer.Transition
	done      chan struct{}

	// Owned by the session loop.
	linkUp        bool
	lossAnnounced bool
	lastWrite     time.Time
}

func NewService(logger *slog.Logger, b bus.MessageBus, tr transport.Transport, store *telemetry.Store, cfg Config) *Service {
	cfg = cfg.withDefaults()
	s := &Service{
		logger:    logger,
		bus:       b,
		transport: tr,
		cfg:       cfg,
		store:     store,
		parser:    nmea.NewParser(),
		intake:    make(chan submitRequest, 16),
		done:      make(chan struct{}),
	}

	linkCfg := cfg.Link
	linkCfg.OnResolved = s.onResolved
	s.session = link.NewSession(logger, s, linkCfg, cfg.Local, cfg.Remote)

	s.seq = sequencer.New(logger, sequencer.Config{
		CountdownTicks:  cfg.CountdownTicks,
		IgnitionTimeout: cfg.IgnitionTimeout,
		Preconditions: telemetry.Preconditions{
			Store:           store,
			MinBatteryVolts: cfg.MinBatteryVolts,
			Freshness:       cfg.Freshness,
		},
		OnTransition: s.onTransition,
	})

	return s
}

func (s *Service) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		s.runConnector(ctx)
	}()
}

// Done is closed once the connector loop has fully stopped after the Start
// context is cancelled. The bus must stay open until then.
func (s *Service) Done() <-chan struct{} {
	return s.done
}

// Submit routes an operator command through the veto gate onto the link and
// returns its delivery handle. Ignition is sequencer-driven and cannot be
// submitted directly.
func (s *Service) Submit(ctx context.Context, kind protocol.Kind) (*link.Handle, error) {
	if !kind.IsCommand() || kind == protocol.KindIgnite {
		return nil, fmt.Errorf("station: %s is not an operator command", kind)
	}
	if !s.connected.Load() {
		return nil, ErrNotConnected
	}

	req := submitRequest{kind: kind, result: make(chan SubmitResult, 1)}
	select {
	case s.intake <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-req.result:
		return res.Handle, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LaunchState is the latest sequencer transition, for display threads.
func (s *Service) LaunchState() sequencer.Transition {
	if tr, ok := s.lastState.Load().(sequencer.Transition); ok {
		return tr
	}

	return sequencer.Transition{To: sequencer.StateIdle}
}

func (s *Service) Connected() bool { return s.connected.Load() }

func (s *Service) Remote() protocol.Node { return s.cfg.Remote }

// WriteMessage encodes m into a checksummed sentence and puts it on the
// wire. It implements link.Wire.
func (s *Service) WriteMessage(m protocol.Message) error {
	body, err := protocol.Encode(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	sentence, err := nmea.Format(body)
	if err != nil {
		return fmt.Errorf("frame message: %w", err)
	}
	if _, err := s.transport.Write(sentence); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	s.lastWrite = time.Now()
	s.publishRaw(TopicRawFrameOut, sentence)

	return nil
}

func (s *Service) runConnector(ctx context.Context) {
	backoff := time.Second
	for {
		if err := ctx.Err(); err != nil {
			return
		}

		s.publishConnStatus(ConnectionStateConnecting, nil)
		if err := s.transport.Connect(ctx); err != nil {
			s.publishConnStatus(ConnectionStateReconnecting, err)
			s.logger.Error("Transport connect failed", "error", err)
			if !sleepWithContext(ctx, backoff) {
				return
			}
			if backoff < 15*time.Second {
				backoff *= 2
			}
			continue
		}

		if err := s.programRadio(); err != nil {
			s.logger.Error("Radio programming failed", "error", err)
			_ = s.transport.Close()
			s.publishConnStatus(ConnectionStateReconnecting, err)
			if !sleepWithContext(ctx, backoff) {
				return
			}
			if backoff < 15*time.Second {
				backoff *= 2
			}
			continue
		}

		backoff = time.Second
		s.connected.Store(true)
		s.publishConnStatus(ConnectionStateConnected, nil)

		err := s.runSession(ctx)

		s.connected.Store(false)
		s.failPending()
		_ = s.transport.Close()
		if ctx.Err() != nil {
			s.publishConnStatus(ConnectionStateDisconnected, nil)
			return
		}
		s.publishConnStatus(ConnectionStateReconnecting, err)
		if !sleepWithContext(ctx, backoff) {
			return
		}
		if backoff < 15*time.Second {
			backoff *= 2
		}
	}
}

// runSession is the single-owner loop. The transport read timeout paces it:
// every pass drains inbound bytes, serves operator submissions, then drives
// the link and sequencer timers.
func (s *Service) runSession(ctx context.Context) error {
	buf := make([]byte, 512)
	now := time.Now()
	nextSeqTick := now.Add(s.cfg.TickInterval)
	s.lastWrite = now

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := s.transport.Read(buf)
		if err != nil {
			return fmt.Errorf("transport read: %w", err)
		}
		now = time.Now()
		if n > 0 {
			s.parser.Feed(buf[:n], func(sentence []byte) {
				s.handleSentence(sentence, now)
			})
		}

		s.drainIntake(now)

		if s.session.Tick(now) {
			s.setLinkDown(now)
		}

		if !now.Before(nextSeqTick) {
			s.seq.Tick(now)
			nextSeqTick = now.Add(s.cfg.TickInterval)
		}

		if s.cfg.KeepaliveInterval > 0 && s.session.Idle() && now.Sub(s.lastWrite) >= s.cfg.KeepaliveInterval {
			if _, err := s.session.Send(protocol.KindPing, now, now.Add(s.cfg.SubmitTimeout)); err != nil {
				s.logger.Debug("Keepalive send failed", "error", err)
			}
		}
	}
}

func (s *Service) drainIntake(now time.Time) {
	for {
		select {
		case req := <-s.intake:
			s.handleSubmit(req, now)
		default:
			return
		}
	}
}

func (s *Service) handleSubmit(req submitRequest, now time.Time) {
	if err := s.seq.Veto(req.kind, now); err != nil {
		req.result <- SubmitResult{Err: err}
		close(req.result)
		return
	}

	deadline := now.Add(s.cfg.SubmitTimeout)
	var (
		h   *link.Handle
		err error
	)
	if req.kind == protocol.KindAbort {
		// The local sequence stops before the remote even acknowledges.
		s.seq.Abort(now)
		h, err = s.session.SendUrgent(req.kind, now, deadline)
	} else {
		h, err = s.session.Send(req.kind, now, deadline)
	}

	req.result <- SubmitResult{Handle: h, Err: err}
	close(req.result)
}

func (s *Service) handleSentence(sentence []byte, now time.Time) {
	s.publishRaw(TopicRawFrameIn, sentence)

	body, err := nmea.Verify(sentence)
	if err != nil {
		s.logger.Warn("Bad sentence discarded", "error", err, "len", len(sentence))
		return
	}
	m, err := protocol.Decode(body)
	if err != nil {
		s.logger.Warn("Undecodable sentence", "error", err, "body", string(body))
		return
	}
	if m.To != s.cfg.Local {
		s.logger.Debug("Frame for another node ignored", "to", m.To.String())
		return
	}

	s.markLinkUp(now)
	if s.session.HandleMessage(m, now) {
		s.deliver(m, now)
	}
}

func (s *Service) deliver(m protocol.Message, now time.Time) {
	switch m.Kind {
	case protocol.KindTelemetry:
		reading := s.store.Ingest(m.From, m.Sample, now)
		s.bus.Publish(TopicTelemetry, reading)
		if reading.Channel == telemetry.ChannelIgnitionDetect && reading.Raw != 0 && s.seq.IgnitionConfirmed(now) {
			s.logger.Info("Ignition confirmed by telemetry")
		}
	case protocol.KindAbort:
		s.logger.Warn("Remote abort received", "from", m.From.String())
		s.bus.Publish(TopicLinkEvent, LinkEvent{Type: LinkEventRemote, Kind: m.Kind, Seq: m.Seq, At: now})
		s.seq.Abort(now)
	default:
		s.logger.Warn("Unexpected remote command", "kind", m.Kind.String(), "from", m.From.String())
		s.bus.Publish(TopicLinkEvent, LinkEvent{Type: LinkEventRemote, Kind: m.Kind, Seq: m.Seq, At: now})
	}
}

// onResolved observes every link-session outcome. It runs on the session
// loop via the session's resolution hook.
func (s *Service) onResolved(kind protocol.Kind, res link.Result) {
	now := time.Now()
	s.bus.Publish(TopicLinkEvent, LinkEvent{
		Type: LinkEventResolved, Kind: kind,
		Outcome: res.Outcome, Reason: res.Reason, Seq: res.Seq, At: now,
	})

	if kind == protocol.KindIgnite && res.Outcome != link.OutcomeAcked {
		s.seq.IgniteFailed(now)
		return
	}

	switch res.Outcome {
	case link.OutcomeAcked:
		if err := s.seq.CommandAcked(kind, now); err != nil {
			s.logger.Warn("Command acknowledged but held", "kind", kind.String(), "error", err)
		}
	case link.OutcomeNacked:
		s.logger.Warn("Command refused", "kind", kind.String(), "reason", res.Reason.String())
	}
}

// onTransition observes every sequencer state change. Entering Ignition
// fires the pyro command; an ignition failure or a confirm-timeout fault
// sends a best-effort abort to safe the stand.
func (s *Service) onTransition(tr sequencer.Transition) {
	s.lastState.Store(tr)
	s.bus.Publish(TopicLaunchState, tr)

	deadline := tr.At.Add(s.cfg.SubmitTimeout)
	switch {
	case tr.To == sequencer.StateIgnition:
		if _, err := s.session.SendUrgent(protocol.KindIgnite, tr.At, deadline); err != nil {
			s.logger.Error("Ignition send failed", "error", err)
			s.seq.IgniteFailed(tr.At)
		}
	case tr.To == sequencer.StateAborted && tr.Cause == sequencer.CauseIgniteFailed,
		tr.To == sequencer.StateFault:
		if _, err := s.session.SendUrgent(protocol.KindAbort, tr.At, deadline); err != nil {
			s.logger.Error("Stand abort send failed", "error", err)
		}
	}
}

func (s *Service) programRadio() error {
	if s.cfg.Radio == nil {
		return nil
	}
	st, ok := s.transport.(*transport.SerialTransport)
	if !ok {
		s.logger.Debug("Transport has no programming pins, skipping radio setup")
		return nil
	}
	port, err := st.Port()
	if err != nil {
		return err
	}

	return e32.NewProgrammer(s.logger, port).Program(*s.cfg.Radio)
}

func (s *Service) markLinkUp(now time.Time) {
	if s.linkUp {
		return
	}
	s.linkUp = true
	s.lossAnnounced = false
	s.logger.Info("Link up", "remote", s.cfg.Remote.String())
	s.bus.Publish(TopicLinkEvent, LinkEvent{Type: LinkEventUp, At: now})
}

func (s *Service) setLinkDown(now time.Time) {
	if !s.lossAnnounced {
		s.lossAnnounced = true
		s.logger.Warn("Link lost", "remote", s.cfg.Remote.String())
		s.bus.Publish(TopicLinkEvent, LinkEvent{Type: LinkEventLost, At: now})
	}
	s.linkUp = false
	s.seq.LinkDown(now)
}

func (s *Service) failPending() {
	now := time.Now()
	if failed := s.session.FailAll(); failed > 0 {
		s.logger.Warn("Transport dropped with sends in flight", "count", failed)
	}
	s.setLinkDown(now)
}

func (s *Service) publishRaw(topic string, sentence []byte) {
	s.bus.Publish(topic, RawFrame{
		Sentence: strings.TrimRight(string(sentence), "\r\n"),
		Len:      len(sentence),
		At:       time.Now(),
	})
}

func (s *Service) publishConnStatus(state ConnectionState, err error) {
	status := ConnStatus{
		State:         state,
		TransportName: s.transport.Name(),
		Timestamp:     time.Now(),
	}
	if err != nil {
		status.Err = err.Error()
	}
	s.bus.Publish(TopicConnStatus, status)
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
