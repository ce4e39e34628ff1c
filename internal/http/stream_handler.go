package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/fjod/go_cart/storefront/internal/projection"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	// a close frame payload is limited to 125 bytes, two of which hold the code
	maxCloseReason = 123
)

type SnapshotStreamer interface {
	Subscribe(ctx context.Context, userID string) *projection.Subscription
}

type StreamHandler struct {
	streamer SnapshotStreamer
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	responder
}

func NewStreamHandler(streamer SnapshotStreamer, m *metrics.Metrics, log *logrus.Entry) *StreamHandler {
	return &StreamHandler{
		streamer: streamer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		metrics:   m,
		responder: responder{log: log.WithField("handler", "stream")},
	}
}

// Stream pushes one JSON CartSnapshot per change of the caller's cart. When the
// feed fails the socket is closed with the failure as the close reason.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	session, ok := SessionFromContext(r.Context())
	if !ok {
		h.respondError(w, r, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client
		return
	}
	defer conn.Close()

	log := logger.FromContext(r.Context(), h.log).WithFields(logrus.Fields{
		"user_id":    session.UserID,
		"request_id": getRequestID(r.Context()),
	})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := h.streamer.Subscribe(ctx, session.UserID)
	defer sub.Unsubscribe()

	h.metrics.ActiveStreams.Inc()
	defer h.metrics.ActiveStreams.Dec()
	log.Info("cart stream opened")

	// the client never sends data; reading only notices pongs and the close
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-sub.Snapshots():
			if !ok {
				h.close(conn, sub.Err(), log)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(snap); err != nil {
				log.WithError(err).Debug("write snapshot failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-ctx.Done():
			log.Info("cart stream closed by client")
			return
		}
	}
}

func (h *StreamHandler) close(conn *websocket.Conn, feedErr error, log *logrus.Entry) {
	code, reason := websocket.CloseNormalClosure, "stream ended"
	if feedErr != nil {
		log.WithError(feedErr).Warn("cart stream ended with error")
		code, reason = websocket.CloseInternalServerErr, domain.UserMessage(feedErr)
	}
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}
