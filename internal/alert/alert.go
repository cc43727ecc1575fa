// Package alert raises desktop notifications for range events an operator
// must not miss: aborts, stand faults, ignition confirmation and link loss.
// Routine traffic (countdown ticks, telemetry, acknowledged commands) stays
// off the desktop.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gen2brain/beeep"

	"groundlink/internal/bus"
	"groundlink/internal/sequencer"
	"groundlink/internal/station"
)

// Payload is one user-facing notification. Critical payloads are delivered
// with the platform alert sound.
type Payload struct {
	Title    string
	Content  string
	Critical bool
}

// Sender delivers payloads to the operator's desktop.
type Sender interface {
	Send(Payload)
}

// DesktopSender shows native desktop notifications via beeep.
type DesktopSender struct {
	logger *slog.Logger
}

func NewDesktopSender(logger *slog.Logger) *DesktopSender {
	if logger == nil {
		logger = slog.Default().With("component", "alert")
	}

	return &DesktopSender{logger: logger}
}

func (s *DesktopSender) Send(notification Payload) {
	if s == nil {
		return
	}

	var err error
	if notification.Critical {
		err = beeep.Alert(notification.Title, notification.Content, "")
	} else {
		err = beeep.Notify(notification.Title, notification.Content, "")
	}
	if err != nil {
		s.logger.Warn("Desktop notification failed", "title", notification.Title, "error", err)
	}
}

// Service listens to bus events and forwards the safety-relevant ones to a
// Sender.
type Service struct {
	bus    bus.MessageBus
	sender Sender
	logger *slog.Logger

	connStatusMu     sync.Mutex
	lastConnState    station.ConnectionState
	lastConnStateSet bool
}

func NewService(messageBus bus.MessageBus, sender Sender, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default().With("component", "alert")
	}

	return &Service{
		bus:    messageBus,
		sender: sender,
		logger: logger,
	}
}

func (s *Service) Start(ctx context.Context) {
	if s == nil || s.bus == nil || s.sender == nil {
		return
	}

	stateSub := s.bus.Subscribe(station.TopicLaunchState)
	linkSub := s.bus.Subscribe(station.TopicLinkEvent)
	connSub := s.bus.Subscribe(station.TopicConnStatus)

	go func() {
		defer s.bus.Unsubscribe(stateSub, station.TopicLaunchState)
		defer s.bus.Unsubscribe(linkSub, station.TopicLinkEvent)
		defer s.bus.Unsubscribe(connSub, station.TopicConnStatus)

		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-stateSub:
				if !ok {
					return
				}
				tr, ok := raw.(sequencer.Transition)
				if !ok {
					continue
				}
				s.handleTransition(tr)
			case raw, ok := <-linkSub:
				if !ok {
					return
				}
				event, ok := raw.(station.LinkEvent)
				if !ok {
					continue
				}
				s.handleLinkEvent(event)
			case raw, ok := <-connSub:
				if !ok {
					return
				}
				status, ok := raw.(station.ConnStatus)
				if !ok {
					continue
				}
				s.handleConnStatus(status)
			}
		}
	}()
}

func (s *Service) handleTransition(tr sequencer.Transition) {
	switch tr.To {
	case sequencer.StateAborted:
		s.send(Payload{
			Title:    "Launch aborted",
			Content:  string(tr.Cause),
			Critical: true,
		})
	case sequencer.StateFault:
		s.send(Payload{
			Title:    "Stand fault",
			Content:  string(tr.Cause),
			Critical: true,
		})
	case sequencer.StateFlight:
		s.send(Payload{
			Title:   "Ignition confirmed",
			Content: "Vehicle in flight",
		})
	}
}

func (s *Service) handleLinkEvent(event station.LinkEvent) {
	switch event.Type {
	case station.LinkEventLost:
		s.send(Payload{
			Title:    "Link lost",
			Content:  "Stand is not responding",
			Critical: true,
		})
	case station.LinkEventUp:
		s.send(Payload{
			Title:   "Link up",
			Content: "Stand responding",
		})
	}
}

// handleConnStatus dedupes consecutive identical states; the connector
// republishes reconnecting on every failed attempt.
func (s *Service) handleConnStatus(status station.ConnStatus) {
	if status.State == "" {
		return
	}

	s.connStatusMu.Lock()
	if s.lastConnStateSet && s.lastConnState == status.State {
		s.connStatusMu.Unlock()

		return
	}
	s.lastConnState = status.State
	s.lastConnStateSet = true
	s.connStatusMu.Unlock()

	if status.State != station.ConnectionStateConnected &&
		status.State != station.ConnectionStateReconnecting {
		return
	}

	transport := transportTitle(status.TransportName)
	if transport == "" {
		transport = "Transport"
	}
	payload := Payload{
		Title: fmt.Sprintf("%s - %s", transport, status.State),
	}
	if status.State == station.ConnectionStateReconnecting {
		payload.Critical = true
		if errText := strings.TrimSpace(status.Err); errText != "" {
			payload.Content = errText
		}
	}
	s.send(payload)
}

func (s *Service) send(notification Payload) {
	notification.Title = strings.TrimSpace(notification.Title)
	notification.Content = strings.TrimSpace(notification.Content)
	if notification.Title == "" && notification.Content == "" {
		return
	}
	s.logger.Debug("sending notification", "title", notification.Title, "critical", notification.Critical)
	s.sender.Send(notification)
}

func transportTitle(name string) string {
	trimmed := strings.TrimSpace(name)
	switch {
	case strings.EqualFold(trimmed, "serial"):
		return "Serial"
	// Loopback ends are named loopback-a and loopback-b.
	case strings.HasPrefix(strings.ToLower(trimmed), "loopback"):
		return "Loopback"
	default:
		return trimmed
	}
}
