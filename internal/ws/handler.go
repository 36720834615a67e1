package ws

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/elly-james/camision/internal/auth"
	"github.com/elly-james/camision/pkg/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, restrict to configured origins.
		return true
	},
}

// Handler upgrades GET /ws/{topic}?token=... into a push subscription. The
// token is the same bearer access token used on the REST surface, passed as a
// query parameter because browser websocket clients cannot set headers.
func Handler(h *Hub, tokens *auth.Tokens) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		topic := chi.URLParam(r, "topic")
		if topic != models.TopicJobs && topic != models.TopicMessages {
			http.Error(w, "unknown topic", http.StatusNotFound)
			return
		}

		claims, err := tokens.ParseAccess(r.URL.Query().Get("token"))
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		s := newSession(h, topic, claims.UserID, claims.Role, conn)
		h.join(topic, s)
		go s.writePump()
		go s.readPump()
	}
}
