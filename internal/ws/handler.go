package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"circle_go/internal/conversation"
	"circle_go/internal/domain"
	"circle_go/internal/membership"
	"circle_go/internal/service"
	"circle_go/internal/session"
)

type wsAuthError struct {
	status int
	msg    string
}

func (e wsAuthError) Error() string {
	return e.msg
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	if len(allowed) == 0 {
		return func(r *http.Request) bool {
			return false
		}
	}
	if _, wildcard := allowed["*"]; wildcard {
		return func(r *http.Request) bool { return true }
	}

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return false
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

func extractTokenFromWSRequest(r *http.Request) (string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("Bearer "):])
		if token != "" {
			return token, nil
		}
	}

	protocolHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
			token := parts[1]
			if token != "" {
				return token, nil
			}
		}
	}

	return "", wsAuthError{status: http.StatusUnauthorized, msg: "missing bearer token"}
}

// Deps are the collaborators of the /ws endpoint.
type Deps struct {
	Hub            *Hub
	Auth           *service.AuthService
	Activities     *service.ActivityService
	Sessions       *session.Registry
	Ledger         *membership.Ledger
	AllowedOrigins []string
	Log            zerolog.Logger
}

// inbound is every client frame; Type selects which fields apply.
type inbound struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	ActivityID     string `json:"activity_id"`
	Content        string `json:"content"`
	Text           string `json:"text"`
}

// MakeHandler returns an HTTP handler for the /ws endpoint.
// Authenticates via Bearer token (Authorization header or Sec-WebSocket-Protocol), then dispatches events:
//   - open_conversation  -> switch the session's conversation
//   - close_conversation -> drop it
//   - draft              -> record the input text
//   - send_message       -> insert; the message arrives back through the live echo
//   - toggle_join        -> join or leave a plan through the ledger
func MakeHandler(d Deps) http.HandlerFunc {
	checkOrigin := makeCheckOrigin(d.AllowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin: checkOrigin,
		Subprotocols: []string{
			"bearer",
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		tokenStr, err := extractTokenFromWSRequest(r)
		if err != nil {
			var authErr wsAuthError
			if errors.As(err, &authErr) {
				http.Error(w, authErr.msg, authErr.status)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := r.Context()
		user, err := d.Auth.Authenticate(ctx, tokenStr)
		if err != nil {
			if errors.Is(err, domain.ErrAuthRequired) {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			d.Log.Error().Err(err).Msg("ws: authenticate")
			http.Error(w, "profile unavailable", http.StatusBadGateway)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		log := d.Log.With().Str("user_id", user.ID.String()).Logger()
		if err := d.Activities.Touch(ctx, user.ID); err != nil {
			log.Warn().Err(err).Msg("ws: touch last_seen")
		}

		client := d.Hub.Register(user.ID, conn)
		defer func() {
			if d.Hub.Unregister(user.ID, conn) == 0 {
				d.Sessions.Release(user.ID)
			}
		}()

		sess := d.Sessions.Acquire(user.ID)
		d.Hub.SendToUser(user.ID, ConversationEvent{Type: "conversation", Snapshot: sess.Conv.Snapshot()})

		for {
			var in inbound
			if err := conn.ReadJSON(&in); err != nil {
				var closeErr *websocket.CloseError
				if !errors.As(err, &closeErr) {
					log.Debug().Err(err).Msg("ws: read")
				}
				break
			}
			d.dispatch(ctx, client, sess, user.ID, in, log)
		}
	}
}

// Writer is the part of a connection dispatch replies through; both *Client
// and a raw Conn satisfy it.
type Writer interface {
	WriteJSON(v any) error
}

func (d Deps) dispatch(ctx context.Context, conn Writer, sess *session.Session, userID uuid.UUID, in inbound, log zerolog.Logger) {
	switch in.Type {

	// ── conversation scope ───────────────────────────────────────────────
	case "open_conversation":
		convID, err := uuid.Parse(in.ConversationID)
		if err != nil {
			sendError(conn, "open_conversation requires conversation_id")
			return
		}
		if err := sess.Conv.Open(ctx, convID); err != nil {
			log.Error().Err(err).Str("conversation_id", convID.String()).Msg("ws: open conversation")
			sendError(conn, "failed to open conversation")
		}

	case "close_conversation":
		sess.Conv.Close()

	case "draft":
		sess.Conv.SetDraft(in.Text)

	case "send_message":
		err := sess.Conv.Send(ctx, in.Content)
		switch {
		case err == nil:
		case errors.Is(err, conversation.ErrEmptyMessage),
			errors.Is(err, conversation.ErrNoConversation),
			errors.Is(err, conversation.ErrSendInFlight):
			// Rejections are no-ops for the client.
		default:
			sendError(conn, "failed to send message")
		}

	// ── membership ───────────────────────────────────────────────────────
	case "toggle_join":
		activityID, err := uuid.Parse(in.ActivityID)
		if err != nil {
			sendError(conn, "toggle_join requires activity_id")
			return
		}
		// Refresh first so a join made elsewhere turns this toggle into a leave.
		if !d.Ledger.Busy(activityID, userID) {
			if err := d.Ledger.Load(ctx, activityID); err != nil {
				log.Warn().Err(err).Str("activity_id", activityID.String()).Msg("ws: load participants")
			}
		}
		out, err := d.Ledger.Toggle(ctx, activityID, userID, d.Ledger.IsMember(activityID, userID))
		status, msg := membership.Result(out, err)
		_ = conn.WriteJSON(map[string]any{
			"type":        "join_result",
			"activity_id": activityID,
			"status":      status,
			"message":     msg,
		})

	default:
		sendError(conn, "unknown event type")
	}
}

func sendError(conn Writer, msg string) {
	_ = conn.WriteJSON(map[string]any{
		"type":    "error",
		"message": msg,
	})
}
