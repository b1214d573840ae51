// Package notify forwards selected engine events to operator chat channels
// (Telegram, Discord).
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// Sender is a single notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches notifications to one or more Senders, filtered by event
// type. An empty event list lets every event through.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering the given events to senders.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Wants reports whether event passes the filter.
func (n *Notifier) Wants(event string) bool {
	return len(n.senders) > 0 && (len(n.events) == 0 || n.events[event])
}

// Notify sends to every sender if event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Wants(event) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// dispatch delivers to every sender; one failing sender does not stop the
// rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// Publisher wraps a domain.Publisher and additionally forwards wanted events
// to the Notifier. Delivery runs in the background so a slow webhook never
// holds up the engine.
type Publisher struct {
	next     domain.Publisher
	notifier *Notifier
	timeout  time.Duration
	wg       sync.WaitGroup
}

var _ domain.Publisher = (*Publisher)(nil)

// NewPublisher decorates next (which may be nil) with notifications.
func NewPublisher(next domain.Publisher, n *Notifier) *Publisher {
	return &Publisher{next: next, notifier: n, timeout: 15 * time.Second}
}

// Publish passes the event on and queues a notification for it.
func (p *Publisher) Publish(ctx context.Context, eventType string, payload any) error {
	if p.notifier.Wants(eventType) {
		title, message := Format(eventType, payload)
		nctx := context.WithoutCancel(ctx)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			sctx, cancel := context.WithTimeout(nctx, p.timeout)
			defer cancel()
			_ = p.notifier.Notify(sctx, eventType, title, message)
		}()
	}
	if p.next == nil {
		return nil
	}
	return p.next.Publish(ctx, eventType, payload)
}

// Wait blocks until queued notifications have been delivered or failed.
func (p *Publisher) Wait() {
	p.wg.Wait()
}

// Format renders an engine event as a notification title and body.
func Format(eventType string, payload any) (string, string) {
	switch v := payload.(type) {
	case domain.Position:
		switch eventType {
		case domain.EventTradeOpened:
			return "Trade opened", fmt.Sprintf("%s %s %.8g @ %.8g (SL %.8g, TP %.8g)",
				v.Side, v.Symbol, v.Quantity, v.EntryPrice, v.StopLoss, v.TakeProfit)
		case domain.EventTradeClosed:
			exit := v.CurrentPrice
			if v.ExitPrice != nil {
				exit = *v.ExitPrice
			}
			return "Trade closed", fmt.Sprintf("%s %s closed on %s @ %.8g, pnl %.2f",
				v.Side, v.Symbol, v.CloseReason, exit, v.RealizedPnL)
		}
	case domain.Account:
		return "Capital changed", fmt.Sprintf("capital %.2f, net deposits %.2f", v.CurrentCapital, v.NetDeposits)
	case map[string]any:
		switch eventType {
		case domain.EventEmergencyStop:
			return "EMERGENCY STOP", fmt.Sprintf("reason: %v", v["reason"])
		case domain.EventModeChanged:
			mode := "testnet"
			if live, _ := v["live"].(bool); live {
				mode = "LIVE"
			}
			return "Trading mode changed", fmt.Sprintf("now %s on %v", mode, v["venue"])
		}
	}
	return eventType, fmt.Sprintf("%+v", payload)
}
