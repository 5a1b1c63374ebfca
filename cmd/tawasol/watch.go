package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/chat"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/presence"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/realtime"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/session"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/typing"
)

type Watch struct {
	Room   int64 `short:"r" long:"room" required:"true" description:"room id"`
	Peer   int64 `short:"p" long:"peer" description:"open the direct conversation with this user id"`
	Hidden bool  `long:"hidden" description:"start hidden: no presence until /show"`
}

func (x *Watch) Execute(args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()
	token, err := e.token()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	me, err := e.api.Me(ctx)
	if err != nil {
		return err
	}

	transport := realtime.NewTransport(realtime.WebsocketDialer{URL: e.cfg.WSURL}, realtime.Options{
		ReconnectInitial: e.cfg.ReconnectInitial,
		ReconnectMax:     e.cfg.ReconnectMax,
	})
	defer transport.Close()

	room, err := session.Open(ctx, transport, e.api, session.Options{
		RoomID:  x.Room,
		Me:      me.ID,
		Token:   token,
		Visible: !x.Hidden,
		Presence: presence.Options{
			Heartbeat:    e.cfg.Heartbeat,
			Grace:        e.cfg.Grace,
			PollFast:     e.cfg.PollFast,
			PollSlow:     e.cfg.PollSlow,
			ChannelRetry: e.cfg.ChannelRetry,
		},
		Typing: typing.Options{
			Throttle:  e.cfg.TypingThrottle,
			StopAfter: e.cfg.TypingStopAfter,
			Expire:    e.cfg.TypingExpire,
		},
	})
	if err != nil {
		return err
	}
	defer room.Close()

	key := chat.Key{RoomID: x.Room, PeerID: x.Peer}
	if err := room.OpenConversation(ctx, key); err != nil {
		log.Warningf("watch: history for %+v: %v", key, err)
	}
	log.Infof("watching room %d as %s", x.Room, me.Username)

	lines := make(chan string)
	go readLines(os.Stdin, lines)

	v := newView(os.Stdout, me.ID)
	v.render(room, key)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-room.Updates():
			v.render(room, key)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := x.command(ctx, room, key, line); quit {
				return nil
			}
		}
	}
}

// command runs one input line. Lines starting with / are commands; anything
// else is sent to the open conversation.
func (x *Watch) command(ctx context.Context, room *session.Room, key chat.Key, line string) (quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		room.Type(line)
		room.Send(key, line)
		room.Type("")
		return false
	}

	cmd, rest, _ := strings.Cut(line, " ")
	var err error
	switch cmd {
	case "/quit":
		return true
	case "/hide":
		room.SetVisible(false)
	case "/show":
		room.SetVisible(true)
	case "/read":
		room.MarkRead(key)
	case "/retry":
		err = room.Resend(strings.TrimSpace(rest))
	case "/edit":
		id, body, _ := strings.Cut(strings.TrimSpace(rest), " ")
		err = room.Edit(ctx, id, body)
	case "/delete":
		err = room.Delete(ctx, strings.TrimSpace(rest))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %s (try /edit, /delete, /retry, /read, /hide, /show, /quit)\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
	}
	return false
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		out <- sc.Text()
	}
}

// view prints what changed since the last render.
type view struct {
	w       io.Writer
	me      int64
	shown   map[string]string
	online  string
	typers  string
	unread  string
	liveWas bool
}

func newView(w io.Writer, me int64) *view {
	return &view{w: w, me: me, shown: make(map[string]string)}
}

func (v *view) render(room *session.Room, key chat.Key) {
	for _, m := range room.Messages(key) {
		id := m.ID
		if m.ClientToken != "" {
			id = m.ClientToken
		}
		line := v.formatMessage(m)
		if v.shown[id] == line {
			continue
		}
		v.shown[id] = line
		fmt.Fprintln(v.w, line)
	}

	var names []string
	for _, m := range room.Online() {
		names = append(names, m.Name)
	}
	sort.Strings(names)
	if online := strings.Join(names, ", "); online != v.online || room.Live() != v.liveWas {
		v.online, v.liveWas = online, room.Live()
		mode := "polling"
		if v.liveWas {
			mode = "live"
		}
		fmt.Fprintf(v.w, "-- online (%s): %s\n", mode, online)
	}

	names = names[:0]
	for _, u := range room.Typers() {
		names = append(names, u.Name)
	}
	if typers := strings.Join(names, ", "); typers != v.typers {
		v.typers = typers
		if typers != "" {
			fmt.Fprintf(v.w, "-- %s typing...\n", typers)
		}
	}

	var parts []string
	for _, s := range room.Summaries() {
		if s.UnreadCount > 0 {
			parts = append(parts, fmt.Sprintf("%s (%d)", s.Peer.Name, s.UnreadCount))
		}
	}
	if unread := strings.Join(parts, ", "); unread != v.unread {
		v.unread = unread
		if unread != "" {
			fmt.Fprintf(v.w, "-- unread: %s\n", unread)
		}
	}
}

func (v *view) formatMessage(m chat.Message) string {
	who := fmt.Sprintf("#%d", m.SenderID)
	if m.SenderID == v.me {
		who = "me"
	}
	body := m.Body
	if m.Attachment != nil {
		body = strings.TrimSpace(fmt.Sprintf("%s [%s %s]", body, m.Type, m.Attachment.Name))
	}
	var flags []string
	if m.IsEdited {
		flags = append(flags, "edited")
	}
	if m.SenderID == v.me && m.IsRead {
		flags = append(flags, "read")
	}
	if m.Status != chat.StatusSent {
		flags = append(flags, m.Status.String())
	}
	line := fmt.Sprintf("[%s] %s %s: %s", m.CreatedAt.Local().Format("15:04"), m.ID, who, body)
	if len(flags) > 0 {
		line += " (" + strings.Join(flags, ", ") + ")"
	}
	return line
}
