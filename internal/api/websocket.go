package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"sm_copilot/internal/broadcast"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// токен уже проверен в auth middleware, origin не ограничиваем
	CheckOrigin: func(*http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingPeriod   = 30 * time.Second
	wsSendBuffer   = 64
)

var errViewerGone = errors.New("viewer send buffer full")

// wsViewer - один подключённый зритель; Send не блокирует рассылку:
// медленный зритель переполняет буфер и отключается
type wsViewer struct {
	conn *websocket.Conn
	send chan broadcast.Event
	done chan struct{}
}

func newWSViewer(conn *websocket.Conn) *wsViewer {
	return &wsViewer{
		conn: conn,
		send: make(chan broadcast.Event, wsSendBuffer),
		done: make(chan struct{}),
	}
}

// Send ставит событие в очередь записи
func (v *wsViewer) Send(e broadcast.Event) error {
	select {
	case <-v.done:
		return errViewerGone
	case v.send <- e:
		return nil
	default:
		return errViewerGone
	}
}

// writePump пишет события и пинги в соединение до его закрытия
func (v *wsViewer) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		v.conn.Close()
	}()

	for {
		select {
		case <-v.done:
			return
		case e := <-v.send:
			v.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := v.conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			v.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// HandleWebSocket подключает зрителя к аккаунту: сперва полный снапшот,
// затем дельты до отключения
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	st, ok := h.accountState(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", slog.Any("error", err))
		return
	}

	viewer := newWSViewer(conn)
	go viewer.writePump()

	id, err := h.hub.Subscribe(r.Context(), st.ID, viewer)
	if err != nil {
		h.logger.Warn("Subscribe failed",
			slog.Int("account_id", st.ID),
			slog.Any("error", err))
		close(viewer.done)
		conn.Close()
		return
	}

	// читаем только для обнаружения закрытия и ответов на ping
	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.hub.Unsubscribe(st.ID, id)
	close(viewer.done)

	h.logger.Info("📡 Viewer disconnected",
		slog.Int("account_id", st.ID),
		slog.String("subscription", id))
}
