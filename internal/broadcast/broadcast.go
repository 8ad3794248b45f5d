// Package broadcast fans out queue lifecycle events (insert, extract,
// queue-created, queue-deleted) to HTTP subscribers over Server-Sent
// Events. It is an external diagnostic consumer only: notification happens
// after an operation's linearization point, never under any node lock, the
// same separation sse.go keeps between mutation and notification.
package broadcast

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jlinden-labs/prioq/internal/index"
)

type writeFlusher interface {
	http.ResponseWriter
	http.Flusher
}

// Subscriber holds one client's event channel and the request context that
// governs its lifetime.
type Subscriber struct {
	event chan string
	ctx   context.Context
}

// Hub maps queue name to the set of subscribers watching that queue's
// lifecycle events.
type Hub struct {
	subscribers *index.Index[string, *index.Index[string, *Subscriber]]
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subscribers: index.New[string, *index.Index[string, *Subscriber]]()}
}

func (h *Hub) subscribersFor(queueName string) *index.Index[string, *Subscriber] {
	_, _ = h.subscribers.Upsert(queueName, func(_ string, current *index.Index[string, *Subscriber], exists bool) (*index.Index[string, *Subscriber], error) {
		if exists {
			return current, nil
		}
		return index.New[string, *Subscriber](), nil
	})
	perQueue, _ := h.subscribers.Find(queueName)
	return perQueue
}

// Subscribe registers a subscriber under token for queueName and returns its
// event channel.
func (h *Hub) Subscribe(queueName, token string, ctx context.Context) (*Subscriber, error) {
	sub := &Subscriber{event: make(chan string, 100), ctx: ctx}
	perQueue := h.subscribersFor(queueName)

	_, err := perQueue.Upsert(token, func(_ string, current *Subscriber, exists bool) (*Subscriber, error) {
		if exists {
			return current, errors.New("broadcast: subscription already exists")
		}
		return sub, nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Unsubscribe removes a subscriber.
func (h *Hub) Unsubscribe(queueName, token string) {
	perQueue, found := h.subscribers.Find(queueName)
	if !found {
		return
	}
	perQueue.Remove(token)
}

// Notify sends event/data to every live subscriber of queueName. A
// subscriber whose channel is full is skipped rather than blocked on.
func (h *Hub) Notify(queueName, event, data string) {
	perQueue, found := h.subscribers.Find(queueName)
	if !found {
		return
	}

	subs, err := perQueue.All(context.Background())
	if err != nil {
		slog.Error("broadcast: failed to enumerate subscribers", "queue", queueName, "error", err)
		return
	}

	for _, sub := range subs {
		select {
		case sub.event <- fmt.Sprintf("%s;%s", event, data):
		default:
			slog.Warn("broadcast: subscriber channel full, dropping event", "queue", queueName, "event", event)
		}
	}
}

func commentSender(wf writeFlusher) {
	var evt bytes.Buffer
	evt.WriteString(": keep-alive\n")
	wf.Write(evt.Bytes())
	wf.Flush()
}

func eventSender(wf writeFlusher, event, data string) {
	var evt bytes.Buffer
	evt.WriteString(fmt.Sprintf("event: %s\n", event))
	evt.WriteString(fmt.Sprintf("id: %d\n", time.Now().UnixMilli()))
	evt.WriteString(fmt.Sprintf("data: %s\n\n", data))
	wf.Write(evt.Bytes())
	wf.Flush()
}

// ServeSSE upgrades an HTTP request into an SSE stream of queueName's
// lifecycle events, until the client disconnects.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request, queueName, token string) {
	sub, err := h.Subscribe(queueName, token, r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	defer h.Unsubscribe(queueName, token)

	wf, ok := w.(writeFlusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	wf.Header().Set("Content-Type", "text/event-stream")
	wf.Header().Set("Cache-Control", "no-cache")
	wf.Header().Set("Connection", "keep-alive")
	wf.Header().Set("Access-Control-Allow-Origin", "*")
	wf.WriteHeader(http.StatusOK)
	eventSender(wf, "connected", queueName)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			commentSender(wf)
		case data := <-sub.event:
			eventSender(wf, "update", data)
		case <-sub.ctx.Done():
			slog.Info("broadcast: subscriber disconnected", "queue", queueName)
			return
		}
	}
}
