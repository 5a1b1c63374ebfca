package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/domain"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/realtime"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Authenticator resolves a bearer token to an active user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.User, error)
}

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

// makeCheckOrigin admits browsers from the allowed origins and non-browser
// clients, which send no Origin header at all.
func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return true
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		_, ok := allowed[fmt.Sprintf("%s://%s", u.Scheme, u.Host)]
		return ok
	}
}

func extractTokenFromWSRequest(r *http.Request) (string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		if token := strings.TrimSpace(authHeader[len("Bearer "):]); token != "" {
			return token, nil
		}
	}

	if protocolHeader := r.Header.Get("Sec-WebSocket-Protocol"); protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") && parts[1] != "" {
			return parts[1], nil
		}
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}

	return "", wsAuthError{status: http.StatusUnauthorized, msg: "missing bearer token"}
}

// MakeHandler returns the /ws endpoint. The connection authenticates with a
// bearer token (Authorization header, Sec-WebSocket-Protocol or ?token=)
// and then speaks realtime frames:
//   - subscribe    -> authorize channel, reply subscription_succeeded or subscription_error
//   - unsubscribe  -> drop the subscription
//   - ping         -> pong
func MakeHandler(hub *Hub, auth Authenticator, allowedOrigins []string) http.HandlerFunc {
	checkOrigin := makeCheckOrigin(allowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin:  checkOrigin,
		Subprotocols: []string{"bearer"},
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

		user, err := auth.Authenticate(r.Context(), tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debugf("ws: upgrade for user %d: %v", user.ID, err)
			return
		}
		defer conn.Close()

		client := hub.Register(user, conn)
		defer hub.Unregister(client)
		log.Debugf("ws: user %d connected", user.ID)

		done := make(chan struct{})
		defer close(done)
		go keepAlive(client, done)

		conn.SetReadLimit(64 << 10)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})

		ctx := context.WithoutCancel(r.Context())
		for {
			var f realtime.Frame
			if err := conn.ReadJSON(&f); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debugf("ws: read from user %d: %v", user.ID, err)
				}
				break
			}
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			serveFrame(ctx, hub, auth, client, f)
		}
		log.Debugf("ws: user %d disconnected", user.ID)
	}
}

func serveFrame(ctx context.Context, hub *Hub, auth Authenticator, c *Client, f realtime.Frame) {
	var reply realtime.Frame
	switch f.Type {
	case realtime.FrameSubscribe:
		reply = realtime.Frame{Type: realtime.FrameSubscriptionSucceeded, Channel: f.Channel}
		if err := subscribe(ctx, hub, auth, c, f); err != nil {
			reply = realtime.Frame{Type: realtime.FrameSubscriptionError, Channel: f.Channel, Message: err.Error()}
		}
	case realtime.FrameUnsubscribe:
		hub.Unsubscribe(c, f.Channel)
		return
	case realtime.FramePing:
		reply = realtime.Frame{Type: realtime.FramePong}
	default:
		reply = realtime.Frame{Type: realtime.FrameError, Message: fmt.Sprintf("unknown frame type %q", f.Type)}
	}
	if err := c.send(reply); err != nil {
		log.Debugf("ws: reply to user %d: %v", c.user.ID, err)
	}
}

// subscribe honours a per-subscription token when one is sent; it must
// belong to the connection's user.
func subscribe(ctx context.Context, hub *Hub, auth Authenticator, c *Client, f realtime.Frame) error {
	if f.Channel == "" {
		return errors.New("channel is required")
	}
	if f.Auth != "" {
		u, err := auth.Authenticate(ctx, f.Auth)
		if err != nil || u.ID != c.user.ID {
			return errors.New("invalid channel auth")
		}
	}
	if err := hub.Subscribe(ctx, c, f.Channel); err != nil {
		if errors.Is(err, ErrChannelForbidden) {
			return err
		}
		log.Errorf("ws: subscribe user %d to %s: %v", c.user.ID, f.Channel, err)
		return errors.New("subscription failed")
	}
	return nil
}

type pinger interface {
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

func keepAlive(c *Client, done <-chan struct{}) {
	p, ok := c.conn.(pinger)
	if !ok {
		return
	}
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := p.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
