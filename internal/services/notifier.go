package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ticket-backoffice/models"

	pubnub "github.com/pubnub/go/v7"
)

// Publisher sends one message to a realtime channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) error
}

type PubNubPublisher struct {
	pn *pubnub.PubNub
}

func NewPubNubPublisher(pn *pubnub.PubNub) *PubNubPublisher {
	return &PubNubPublisher{pn: pn}
}

func (p *PubNubPublisher) Publish(ctx context.Context, channel string, message any) error {
	_, st, err := p.pn.PublishWithContext(ctx).
		Channel(channel).
		Message(message).
		Execute()
	if err != nil {
		return fmt.Errorf("publish to %s (status %d): %w", channel, st.StatusCode, err)
	}
	return nil
}

func CheckInChannel(eventID string) string {
	return fmt.Sprintf("checkins-%s", eventID)
}

// CheckInNotifier broadcasts successful check-ins to door dashboards.
// Publishing happens off the scan path.
type CheckInNotifier struct {
	publisher Publisher
	timeout   time.Duration
	wg        sync.WaitGroup
}

func NewCheckInNotifier(publisher Publisher) *CheckInNotifier {
	return &CheckInNotifier{publisher: publisher, timeout: 5 * time.Second}
}

func (n *CheckInNotifier) CheckedIn(ctx context.Context, result models.CheckInResult) {
	if result.EventID == "" {
		return
	}
	message := map[string]any{
		"type":           "check_in",
		"status":         result.Outcome,
		"ticket_id":      result.TicketID,
		"event_id":       result.EventID,
		"assistant_name": result.AssistantName,
		"checked_in_at":  result.CheckedInAt,
	}

	ctx = context.WithoutCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()

		if err := n.publisher.Publish(ctx, CheckInChannel(result.EventID), message); err != nil {
			slog.Warn("Failed to publish check-in", "error", err, "ticket_id", result.TicketID, "event_id", result.EventID)
		}
	}()
}

// Wait blocks until pending broadcasts finish.
func (n *CheckInNotifier) Wait() {
	n.wg.Wait()
}
