package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"

	"qms/visit-queue/internal/hub"
)

const clientBuffer = 16

// Realtime serves the subscription socket under prefix. Plain WebSocket
// clients connect to prefix + "/websocket".
func (h *Handler) Realtime(prefix string) http.Handler {
	opts := sockjs.DefaultOptions
	opts.RawWebsocket = true
	return sockjs.NewHandler(prefix, opts, h.serveSession)
}

func (h *Handler) serveSession(session sockjs.Session) {
	client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, clientBuffer)}
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	go func() {
		for msg := range client.Send {
			_ = session.Send(string(msg))
		}
	}()

	for {
		msg, err := session.Recv()
		if err != nil {
			return
		}
		parsed, ok := hub.ParseSubscribe([]byte(msg))
		if !ok {
			h.logger.Debug().Str("client_id", client.ID).Msg("ignore socket message")
			continue
		}
		if parsed.Type == hub.TypeUnsubscribe {
			h.hub.Subscribe(client, "")
			continue
		}

		h.hub.Subscribe(client, parsed.VN)
		enqueue(client, hub.SubscribedMessage(parsed.VN))
		h.sendSnapshot(client, parsed.VN)
	}
}

// sendSnapshot gives a fresh subscriber the entry's current state. A
// concurrent broadcast may overtake it; the version field orders them.
func (h *Handler) sendSnapshot(client *hub.Client, visit string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	entry, ok, err := h.store.GetByVN(ctx, visit)
	if err != nil {
		h.logger.Warn().Err(err).Str("vn", visit).Msg("snapshot lookup")
		return
	}
	if !ok {
		return
	}
	payload, err := hub.UpdateMessage(entry)
	if err != nil {
		h.logger.Error().Err(err).Str("vn", visit).Msg("encode snapshot")
		return
	}
	enqueue(client, payload)
}

func enqueue(client *hub.Client, payload []byte) {
	select {
	case client.Send <- payload:
	default:
	}
}
