package gateway

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aide-ai/aide/pkg/runner"
)

// EventBroadcaster fans runner events out to connected clients. Emit never
// blocks: events queue onto a buffered channel and are dropped when the
// buffer is full, so a slow client can never stall an agent cycle.
type EventBroadcaster struct {
	clients *ClientRegistry
	logger  zerolog.Logger

	queue  chan runner.Event
	stopCh chan struct{}
	wg     sync.WaitGroup

	seqMu sync.Mutex
	seq   int64
}

// NewEventBroadcaster creates a broadcaster over the given registry.
func NewEventBroadcaster(clients *ClientRegistry, logger zerolog.Logger) *EventBroadcaster {
	b := &EventBroadcaster{
		clients: clients,
		logger:  logger,
		queue:   make(chan runner.Event, 256),
		stopCh:  make(chan struct{}),
	}

	b.wg.Add(1)
	go b.pump()
	return b
}

// Emit queues a runner event for delivery.
func (b *EventBroadcaster) Emit(event runner.Event) {
	select {
	case b.queue <- event:
	default:
		b.logger.Warn().
			Str("type", string(event.Type)).
			Str("session_id", event.SessionID).
			Msg("Event queue full, dropping event")
	}
}

// Stop drains the queue and stops delivery.
func (b *EventBroadcaster) Stop() {
	close(b.stopCh)
	b.wg.Wait()
}

func (b *EventBroadcaster) pump() {
	defer b.wg.Done()

	for {
		select {
		case <-b.stopCh:
			for {
				select {
				case event := <-b.queue:
					b.deliver(event)
				default:
					return
				}
			}
		case event := <-b.queue:
			b.deliver(event)
		}
	}
}

func (b *EventBroadcaster) deliver(event runner.Event) {
	msg := EventMessage{
		Type:      string(event.Type),
		SessionID: event.SessionID,
		AgentID:   event.AgentID,
		Content:   event.Content,
		Error:     event.Error,
		Advanced:  event.Advanced,
		Completed: event.Completed,
		Ready:     event.Ready,
		Seq:       b.nextSeq(),
		Timestamp: time.Now().UnixMilli(),
	}

	clients := b.clients.ForSession(event.SessionID)
	if len(clients) == 0 {
		// Nobody watching; the session state still recorded the result.
		return
	}

	for _, client := range clients {
		if err := client.WriteJSON(msg); err != nil {
			b.logger.Warn().
				Err(err).
				Str("client_id", client.ID).
				Str("type", msg.Type).
				Msg("Failed to deliver event")
		}
	}
}

// Broadcast sends a one-off event to every client of a session.
func (b *EventBroadcaster) Broadcast(sessionID, eventType, content string) {
	b.Emit(runner.Event{
		Type:      runner.EventType(eventType),
		SessionID: sessionID,
		Content:   content,
	})
}

func (b *EventBroadcaster) nextSeq() int64 {
	b.seqMu.Lock()
	defer b.seqMu.Unlock()
	b.seq++
	return b.seq
}
