// Package inbox maintains the list of direct conversations the local user has
// inside a room, with the last message and unread count of each.
package inbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/op/go-logging"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/chat"
)

var log = logging.MustGetLogger("inbox")

type Peer struct {
	ID       int64      `json:"id"`
	Name     string     `json:"name"`
	Avatar   string     `json:"avatar,omitempty"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

type Summary struct {
	Peer        Peer
	LastMessage *chat.Message
	UnreadCount int
}

// Lister fetches the conversation summaries of the local user in a room.
type Lister interface {
	Conversations(ctx context.Context, roomID int64) ([]Summary, error)
}

type Options struct {
	OnChange func()
}

type Aggregator struct {
	api      Lister
	roomID   int64
	me       int64
	onChange func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	byPeer    map[int64]*Summary
	loaded    bool
	err       error
	reloading bool
	dirty     bool
}

func NewAggregator(api Lister, roomID, me int64, opts Options) *Aggregator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Aggregator{
		api:      api,
		roomID:   roomID,
		me:       me,
		onChange: opts.OnChange,
		ctx:      ctx,
		cancel:   cancel,
		byPeer:   make(map[int64]*Summary),
	}
}

// Reload replaces the list with a fresh copy from the server. Calls made
// while a reload is running are folded into one more fetch.
func (a *Aggregator) Reload(ctx context.Context) error {
	a.mu.Lock()
	if a.reloading {
		a.dirty = true
		a.mu.Unlock()
		return nil
	}
	a.reloading = true
	a.mu.Unlock()

	for {
		list, err := a.api.Conversations(ctx, a.roomID)
		a.mu.Lock()
		if err != nil {
			a.err = fmt.Errorf("load conversations: %w", err)
			a.reloading, a.dirty = false, false
			a.mu.Unlock()
			a.changed()
			return a.Err()
		}
		a.byPeer = make(map[int64]*Summary, len(list))
		for i := range list {
			s := list[i]
			a.byPeer[s.Peer.ID] = &s
		}
		a.loaded, a.err = true, nil
		if !a.dirty {
			a.reloading = false
			a.mu.Unlock()
			a.changed()
			return nil
		}
		a.dirty = false
		a.mu.Unlock()
	}
}

// ApplyMessage folds a new direct message into the list. A message from or
// to a peer not listed yet triggers a full reload.
func (a *Aggregator) ApplyMessage(m chat.Message) {
	if m.RoomID != a.roomID || m.ReceiverID == 0 {
		return
	}
	peer := chat.KeyFor(m, a.me).PeerID

	a.mu.Lock()
	s, ok := a.byPeer[peer]
	if !ok {
		a.mu.Unlock()
		a.reloadAsync()
		return
	}
	msg := m
	switch {
	case s.LastMessage != nil && s.LastMessage.ID == m.ID:
		s.LastMessage = &msg
	case s.LastMessage == nil || !m.CreatedAt.Before(s.LastMessage.CreatedAt):
		s.LastMessage = &msg
		if m.SenderID != a.me {
			s.UnreadCount++
		}
	default:
		if m.SenderID != a.me {
			s.UnreadCount++
		}
	}
	a.mu.Unlock()
	a.changed()
}

// ApplyEdited keeps a summary's last message body current.
func (a *Aggregator) ApplyEdited(ed chat.Edit) {
	a.mu.Lock()
	hit := false
	for _, s := range a.byPeer {
		if s.LastMessage != nil && s.LastMessage.ID == ed.ID {
			msg := *s.LastMessage
			msg.Body = ed.Body
			msg.IsEdited = true
			msg.UpdatedAt = ed.UpdatedAt
			s.LastMessage = &msg
			hit = true
		}
	}
	a.mu.Unlock()
	if hit {
		a.changed()
	}
}

// ApplyDeleted reloads the list when the deleted message was a summary's
// last message, since the previous one is not known locally.
func (a *Aggregator) ApplyDeleted(id string) {
	a.mu.Lock()
	hit := false
	for _, s := range a.byPeer {
		if s.LastMessage != nil && s.LastMessage.ID == id {
			hit = true
		}
	}
	a.mu.Unlock()
	if hit {
		a.reloadAsync()
	}
}

// ApplyReadReceipt clears the unread count of the sender's conversation when
// the local user is the reader.
func (a *Aggregator) ApplyReadReceipt(r chat.ReadReceipt) {
	if r.RoomID != a.roomID || r.ReaderID != a.me {
		return
	}
	a.ResetUnread(r.SenderID)
}

// ResetUnread clears the unread count for peer after a local read action.
func (a *Aggregator) ResetUnread(peer int64) {
	a.mu.Lock()
	s, ok := a.byPeer[peer]
	changed := ok && s.UnreadCount != 0
	if changed {
		s.UnreadCount = 0
	}
	a.mu.Unlock()
	if changed {
		a.changed()
	}
}

// Summaries returns the conversations, most recent first.
func (a *Aggregator) Summaries() []Summary {
	a.mu.Lock()
	out := make([]Summary, 0, len(a.byPeer))
	for _, s := range a.byPeer {
		out = append(out, *s)
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		li, lj := out[i].LastMessage, out[j].LastMessage
		switch {
		case li == nil && lj == nil:
			return out[i].Peer.ID < out[j].Peer.ID
		case li == nil:
			return false
		case lj == nil:
			return true
		case li.CreatedAt.Equal(lj.CreatedAt):
			return out[i].Peer.ID < out[j].Peer.ID
		}
		return li.CreatedAt.After(lj.CreatedAt)
	})
	return out
}

// Unread returns the unread count for peer.
func (a *Aggregator) Unread(peer int64) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.byPeer[peer]; ok {
		return s.UnreadCount
	}
	return 0
}

func (a *Aggregator) Loaded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loaded
}

func (a *Aggregator) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Wait blocks until background reloads finish.
func (a *Aggregator) Wait() { a.wg.Wait() }

func (a *Aggregator) Close() {
	a.cancel()
	a.wg.Wait()
}

func (a *Aggregator) reloadAsync() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.Reload(a.ctx); err != nil {
			log.Warningf("inbox: room=%d: %v", a.roomID, err)
		}
	}()
}

func (a *Aggregator) changed() {
	if a.onChange != nil {
		a.onChange()
	}
}
