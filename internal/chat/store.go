package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/op/go-logging"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/clock"
)

var log = logging.MustGetLogger("chat")

const (
	defaultMaxPages    = 50
	defaultMatchWindow = 30 * time.Second
	maxParked          = 256
	maxTombstones      = 1024
)

type Options struct {
	Clock clock.Clock
	// MaxHistoryPages caps how many pages LoadHistory fetches.
	MaxHistoryPages int
	// MatchWindow bounds the createdAt distance used to pair a broadcast
	// echo with an optimistic entry when no client token is echoed.
	MatchWindow time.Duration
	// NewToken generates idempotency tokens; temporary ids are derived
	// from it.
	NewToken func() string
	// OnChange is called after every mutation, outside the store lock.
	OnChange func(Key)
}

type entry struct {
	msg        Message
	seq        uint64
	draft      *Draft
	queuedEdit *string
}

type conversation struct {
	key     Key
	entries []*entry
	unread  int
	state   State
}

// Store is the client-side conversation store. All mutations of one call
// happen in a single critical section; network calls are made outside it.
type Store struct {
	api         API
	me          int64
	clock       clock.Clock
	maxPages    int
	matchWindow time.Duration
	newToken    func() string
	onChange    func(Key)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	seq         uint64
	convs       map[Key]*conversation
	index       map[string]*entry
	aliases     map[string]string
	cancelled   map[string]bool
	parked      map[string]Edit
	parkedOrder []string
	tombstones  map[string]struct{}
	tombOrder   []string
}

func NewStore(api API, me int64, opts Options) *Store {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.MaxHistoryPages <= 0 {
		opts.MaxHistoryPages = defaultMaxPages
	}
	if opts.MatchWindow <= 0 {
		opts.MatchWindow = defaultMatchWindow
	}
	if opts.NewToken == nil {
		opts.NewToken = uuid.NewString
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		api:         api,
		me:          me,
		clock:       opts.Clock,
		maxPages:    opts.MaxHistoryPages,
		matchWindow: opts.MatchWindow,
		newToken:    opts.NewToken,
		onChange:    opts.OnChange,
		ctx:         ctx,
		cancel:      cancel,
		convs:       make(map[Key]*conversation),
		index:       make(map[string]*entry),
		aliases:     make(map[string]string),
		cancelled:   make(map[string]bool),
		parked:      make(map[string]Edit),
		tombstones:  make(map[string]struct{}),
	}
}

// Me returns the local user id.
func (s *Store) Me() int64 { return s.me }

// Messages returns the conversation in display order (oldest first).
func (s *Store) Messages(key Key) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[key]
	if !ok {
		return nil
	}
	out := make([]Message, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.msg
	}
	return out
}

// Message looks a message up by server or temporary id.
func (s *Store) Message(id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.lookupLocked(id); e != nil {
		return e.msg, true
	}
	return Message{}, false
}

func (s *Store) LastMessage(key Key) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[key]
	if !ok || len(c.entries) == 0 {
		return Message{}, false
	}
	return c.entries[len(c.entries)-1].msg, true
}

func (s *Store) State(key Key) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[key]; ok {
		return c.state
	}
	return State{}
}

func (s *Store) Unread(key Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[key]; ok {
		return c.unread
	}
	return 0
}

func (s *Store) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.convs {
		n += c.unread
	}
	return n
}

// Keys lists the conversations present in the store.
func (s *Store) Keys() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]Key, 0, len(s.convs))
	for k := range s.convs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].RoomID != keys[j].RoomID {
			return keys[i].RoomID < keys[j].RoomID
		}
		return keys[i].PeerID < keys[j].PeerID
	})
	return keys
}

// SeedUnread raises the unread counter of key to n, e.g. from a server
// summary. It never lowers the counter.
func (s *Store) SeedUnread(key Key, n int) {
	s.mu.Lock()
	c := s.convLocked(key)
	changed := n > c.unread
	if changed {
		c.unread = n
	}
	s.mu.Unlock()
	if changed {
		s.changed(key)
	}
}

// LoadHistory fetches every page of history for key and merges it.
func (s *Store) LoadHistory(ctx context.Context, key Key) ([]Message, error) {
	s.mu.Lock()
	c := s.convLocked(key)
	first := !c.state.Loaded
	c.state.Loading = true
	c.state.Err = nil
	s.mu.Unlock()
	s.changed(key)

	var all []Message
	for page := 1; ; page++ {
		p, err := s.api.History(ctx, key, page)
		if err != nil {
			err = fmt.Errorf("load history: %w", err)
			log.Warningf("chat: history room=%d peer=%d page=%d: %v", key.RoomID, key.PeerID, page, err)
			s.mu.Lock()
			c.state.Loading = false
			c.state.Err = err
			if first {
				s.dropConfirmedLocked(c)
			}
			s.mu.Unlock()
			s.changed(key)
			return nil, err
		}
		all = append(all, p.Messages...)
		if !p.HasMore || len(p.Messages) == 0 || page >= s.maxPages {
			break
		}
	}

	s.mu.Lock()
	// history arrives newest first
	for i := len(all) - 1; i >= 0; i-- {
		m := all[i]
		m.Key = key
		s.upsertLocked(c, m, false)
	}
	c.resort()
	c.state = State{Loaded: true}
	out := make([]Message, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.msg
	}
	s.mu.Unlock()
	s.changed(key)
	return out, nil
}

// SendOptimistic appends d under a temporary id and sends it in the
// background. The returned id stays resolvable after confirmation.
func (s *Store) SendOptimistic(d Draft) string {
	if d.Type == "" {
		d.Type = TypeText
	}
	localID, token := s.BeginSend(d)
	s.dispatchSend(localID, d, token)
	return localID
}

// BeginSend inserts the optimistic entry without sending it.
func (s *Store) BeginSend(d Draft) (localID, token string) {
	token = s.newToken()
	localID = "tmp-" + token
	if d.Type == "" {
		d.Type = TypeText
	}
	m := Message{
		ID:          localID,
		Key:         d.Key,
		RoomID:      d.Key.RoomID,
		SenderID:    s.me,
		ReceiverID:  d.Key.PeerID,
		Body:        d.Body,
		Type:        d.Type,
		CreatedAt:   s.clock.Now(),
		ClientToken: token,
		Status:      StatusPending,
	}
	if d.Upload != nil {
		m.Attachment = &Attachment{Name: d.Upload.Name}
	}
	draft := d

	s.mu.Lock()
	c := s.convLocked(d.Key)
	s.seq++
	e := &entry{msg: m, seq: s.seq, draft: &draft}
	c.insert(e)
	s.index[localID] = e
	s.mu.Unlock()
	s.changed(d.Key)
	return localID, token
}

// CompleteSend reconciles the optimistic entry localID with the outcome of
// its REST call.
func (s *Store) CompleteSend(localID string, server Message, err error) {
	s.mu.Lock()
	e := s.index[localID]
	if e == nil {
		if sid, ok := s.aliases[localID]; ok {
			e = s.index[sid]
		}
	}

	if err != nil {
		delete(s.cancelled, localID)
		if e != nil && e.msg.Status == StatusPending {
			e.msg.Status = StatusFailed
			e.msg.Err = err
		}
		s.mu.Unlock()
		log.Warningf("chat: send %s failed: %v", localID, err)
		if e != nil {
			s.changed(e.msg.Key)
		}
		return
	}

	if s.cancelled[localID] {
		delete(s.cancelled, localID)
		s.tombstoneLocked(server.ID)
		key := KeyFor(server, s.me)
		if echo := s.index[server.ID]; echo != nil {
			key = echo.msg.Key
			s.removeLocked(echo)
		}
		s.mu.Unlock()
		s.changed(key)
		s.background(func(ctx context.Context) {
			if err := s.api.Delete(ctx, server.ID); err != nil {
				log.Warningf("chat: delete of cancelled send %s: %v", server.ID, err)
			}
		})
		return
	}

	if e == nil {
		s.mu.Unlock()
		return
	}

	c := s.convs[e.msg.Key]
	server.Key = e.msg.Key
	if existing := s.index[server.ID]; existing != nil && existing != e {
		// the echo was inserted on its own; collapse onto it
		s.removeLocked(e)
		if e.queuedEdit != nil && existing.queuedEdit == nil {
			existing.queuedEdit = e.queuedEdit
		}
		e = existing
		c = s.convs[e.msg.Key]
	} else {
		delete(s.index, e.msg.ID)
		e.msg.ID = server.ID
		s.index[server.ID] = e
	}
	e.msg = merge(e.msg, server, e.queuedEdit)
	e.msg.Status = StatusSent
	e.msg.Err = nil
	e.draft = nil
	s.aliases[localID] = server.ID
	s.applyParkedLocked(e)
	queued := e.queuedEdit
	e.queuedEdit = nil
	if _, dead := s.tombstones[server.ID]; dead {
		s.removeLocked(e)
		queued = nil
	} else if c != nil {
		c.resort()
	}
	key := e.msg.Key
	s.mu.Unlock()
	s.changed(key)

	if queued != nil {
		body, id := *queued, server.ID
		s.background(func(ctx context.Context) {
			m, err := s.api.Edit(ctx, id, body)
			if err != nil {
				log.Warningf("chat: queued edit of %s: %v", id, err)
				return
			}
			s.ApplyEdited(Edit{ID: m.ID, Body: m.Body, UpdatedAt: m.UpdatedAt})
		})
	}
}

// Resend retries a failed send with the same idempotency token.
func (s *Store) Resend(localID string) error {
	s.mu.Lock()
	e := s.lookupLocked(localID)
	if e == nil {
		s.mu.Unlock()
		return ErrUnknownMessage
	}
	if e.msg.Status != StatusFailed || e.draft == nil {
		s.mu.Unlock()
		return ErrNotFailed
	}
	e.msg.Status = StatusPending
	e.msg.Err = nil
	d := *e.draft
	d.Body = e.msg.Body
	token := e.msg.ClientToken
	key := e.msg.Key
	s.mu.Unlock()
	s.changed(key)

	s.dispatchSend(localID, d, token)
	return nil
}

// ApplyIncoming merges a message.sent event.
func (s *Store) ApplyIncoming(m Message) {
	s.mu.Lock()
	if _, dead := s.tombstones[m.ID]; dead {
		s.mu.Unlock()
		return
	}
	m.Key = KeyFor(m, s.me)
	c := s.convLocked(m.Key)
	s.upsertLocked(c, m, true)
	c.resort()
	s.mu.Unlock()
	s.changed(m.Key)
}

// ApplyEdited replaces body, edit flag and update time in place. Edits for
// ids the store does not know yet are parked until the id shows up.
func (s *Store) ApplyEdited(ed Edit) {
	s.mu.Lock()
	e := s.lookupLocked(ed.ID)
	if e == nil {
		s.parkLocked(ed)
		s.mu.Unlock()
		return
	}
	applyEdit(e, ed)
	key := e.msg.Key
	s.mu.Unlock()
	s.changed(key)
}

// ApplyDeleted removes a message. Unknown ids are remembered so a late
// create for the same id is dropped.
func (s *Store) ApplyDeleted(id string) {
	s.mu.Lock()
	e := s.lookupLocked(id)
	s.tombstoneLocked(id)
	if e == nil {
		s.mu.Unlock()
		return
	}
	key := e.msg.Key
	s.removeLocked(e)
	s.mu.Unlock()
	s.changed(key)
}

// ApplyReadReceipt flips every unread message the local user sent to the
// reader to read. When the local user is the reader, the conversation's
// unread counter is reset.
func (s *Store) ApplyReadReceipt(r ReadReceipt) {
	var touched []Key
	s.mu.Lock()
	if r.SenderID == s.me {
		key := Key{RoomID: r.RoomID, PeerID: r.ReaderID}
		if c, ok := s.convs[key]; ok {
			for _, e := range c.entries {
				if e.msg.SenderID == s.me && !e.msg.IsRead && e.msg.Status == StatusSent {
					e.msg.IsRead = true
				}
			}
			touched = append(touched, key)
		}
	}
	if r.ReaderID == s.me {
		key := Key{RoomID: r.RoomID, PeerID: r.SenderID}
		if c, ok := s.convs[key]; ok {
			s.readLocked(c)
			touched = append(touched, key)
		}
	}
	s.mu.Unlock()
	for _, k := range touched {
		s.changed(k)
	}
}

// MarkAllRead resets the unread counter of key at once and tells the
// server in the background. Repeated calls are harmless.
func (s *Store) MarkAllRead(key Key) {
	s.mu.Lock()
	c := s.convLocked(key)
	s.readLocked(c)
	s.mu.Unlock()
	s.changed(key)

	s.background(func(ctx context.Context) {
		if err := s.api.MarkRead(ctx, key); err != nil {
			log.Warningf("chat: mark read room=%d peer=%d: %v", key.RoomID, key.PeerID, err)
		}
	})
}

// Edit changes the body of one of the local user's messages. Pending
// messages keep the edit queued until their server id is known.
func (s *Store) Edit(ctx context.Context, id, body string) error {
	s.mu.Lock()
	e := s.lookupLocked(id)
	if e == nil {
		s.mu.Unlock()
		return ErrUnknownMessage
	}
	if e.msg.SenderID != s.me {
		s.mu.Unlock()
		return ErrNotOwner
	}
	key := e.msg.Key
	switch e.msg.Status {
	case StatusPending:
		e.queuedEdit = &body
		e.msg.Body = body
		s.mu.Unlock()
		s.changed(key)
		return nil
	case StatusFailed:
		e.msg.Body = body
		s.mu.Unlock()
		s.changed(key)
		return nil
	}
	prev := e.msg
	serverID := e.msg.ID
	e.msg.Body = body
	e.msg.IsEdited = true
	s.mu.Unlock()
	s.changed(key)

	m, err := s.api.Edit(ctx, serverID, body)
	if err != nil {
		s.mu.Lock()
		if cur := s.index[serverID]; cur != nil && cur.msg.Body == body {
			cur.msg.Body = prev.Body
			cur.msg.IsEdited = prev.IsEdited
		}
		s.mu.Unlock()
		s.changed(key)
		return fmt.Errorf("edit message: %w", err)
	}
	s.ApplyEdited(Edit{ID: m.ID, Body: m.Body, UpdatedAt: m.UpdatedAt})
	return nil
}

// Delete removes one of the local user's messages. A message still in
// flight is removed locally and deleted on the server once confirmed.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	e := s.lookupLocked(id)
	if e == nil {
		s.mu.Unlock()
		return ErrUnknownMessage
	}
	if e.msg.SenderID != s.me {
		s.mu.Unlock()
		return ErrNotOwner
	}
	key := e.msg.Key
	switch e.msg.Status {
	case StatusPending:
		s.cancelled[e.msg.ID] = true
		s.removeLocked(e)
		s.mu.Unlock()
		s.changed(key)
		return nil
	case StatusFailed:
		s.removeLocked(e)
		s.mu.Unlock()
		s.changed(key)
		return nil
	}
	serverID := e.msg.ID
	s.removeLocked(e)
	s.tombstoneLocked(serverID)
	s.mu.Unlock()
	s.changed(key)

	if err := s.api.Delete(ctx, serverID); err != nil {
		s.mu.Lock()
		delete(s.tombstones, serverID)
		if s.index[serverID] == nil {
			c := s.convLocked(key)
			c.insert(e)
			s.index[serverID] = e
		}
		s.mu.Unlock()
		s.changed(key)
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// Wait blocks until background sends and follow-up calls have finished.
func (s *Store) Wait() { s.wg.Wait() }

// Close cancels background calls and waits for them.
func (s *Store) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Store) dispatchSend(localID string, d Draft, token string) {
	s.background(func(ctx context.Context) {
		m, err := s.api.Send(ctx, d, token)
		s.CompleteSend(localID, m, err)
	})
}

func (s *Store) background(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

func (s *Store) changed(key Key) {
	if s.onChange != nil {
		s.onChange(key)
	}
}

func (s *Store) convLocked(key Key) *conversation {
	c, ok := s.convs[key]
	if !ok {
		c = &conversation{key: key}
		s.convs[key] = c
	}
	return c
}

func (s *Store) lookupLocked(id string) *entry {
	if e := s.index[id]; e != nil {
		return e
	}
	if sid, ok := s.aliases[id]; ok {
		return s.index[sid]
	}
	return nil
}

// upsertLocked merges a server-originated message into c. live marks
// broadcast arrivals, which count towards the unread counter.
func (s *Store) upsertLocked(c *conversation, m Message, live bool) {
	if _, dead := s.tombstones[m.ID]; dead {
		return
	}
	if e := s.index[m.ID]; e != nil {
		e.msg = merge(e.msg, m, e.queuedEdit)
		s.applyParkedLocked(e)
		return
	}
	if e := s.matchPendingLocked(c, m); e != nil {
		delete(s.index, e.msg.ID)
		s.aliases[e.msg.ID] = m.ID
		e.msg = merge(e.msg, m, e.queuedEdit)
		e.msg.Status = StatusSent
		e.msg.Err = nil
		s.index[m.ID] = e
		s.applyParkedLocked(e)
		return
	}
	s.seq++
	e := &entry{msg: m, seq: s.seq}
	s.applyParkedLocked(e)
	c.insert(e)
	s.index[m.ID] = e
	if live && m.SenderID != s.me {
		c.unread++
	}
}

// matchPendingLocked finds the optimistic entry a server message confirms:
// by echoed client token when present, otherwise by sender, content and
// temporal proximity.
func (s *Store) matchPendingLocked(c *conversation, m Message) *entry {
	if m.SenderID != s.me {
		return nil
	}
	for _, e := range c.entries {
		if e.msg.Status == StatusSent {
			continue
		}
		if m.ClientToken != "" {
			if e.msg.ClientToken == m.ClientToken {
				return e
			}
			continue
		}
		if e.msg.SenderID != m.SenderID || e.msg.Body != m.Body || e.msg.Type != m.Type {
			continue
		}
		d := m.CreatedAt.Sub(e.msg.CreatedAt)
		if d < 0 {
			d = -d
		}
		if d <= s.matchWindow {
			return e
		}
	}
	return nil
}

func (s *Store) removeLocked(e *entry) {
	delete(s.index, e.msg.ID)
	if c, ok := s.convs[e.msg.Key]; ok {
		for i, other := range c.entries {
			if other == e {
				c.entries = append(c.entries[:i], c.entries[i+1:]...)
				break
			}
		}
	}
}

func (s *Store) readLocked(c *conversation) {
	c.unread = 0
	for _, e := range c.entries {
		if e.msg.SenderID != s.me {
			e.msg.IsRead = true
		}
	}
}

// dropConfirmedLocked clears server-known entries after a failed first
// load; local sends survive.
func (s *Store) dropConfirmedLocked(c *conversation) {
	kept := c.entries[:0]
	for _, e := range c.entries {
		if e.msg.Status == StatusSent {
			delete(s.index, e.msg.ID)
			continue
		}
		kept = append(kept, e)
	}
	c.entries = kept
}

func (s *Store) parkLocked(ed Edit) {
	if prev, ok := s.parked[ed.ID]; ok {
		if !ed.UpdatedAt.IsZero() && ed.UpdatedAt.Before(prev.UpdatedAt) {
			return
		}
		s.parked[ed.ID] = ed
		return
	}
	s.parked[ed.ID] = ed
	s.parkedOrder = append(s.parkedOrder, ed.ID)
	if len(s.parkedOrder) > maxParked {
		oldest := s.parkedOrder[0]
		s.parkedOrder = s.parkedOrder[1:]
		delete(s.parked, oldest)
	}
}

func (s *Store) applyParkedLocked(e *entry) {
	ed, ok := s.parked[e.msg.ID]
	if !ok {
		return
	}
	delete(s.parked, e.msg.ID)
	for i, id := range s.parkedOrder {
		if id == e.msg.ID {
			s.parkedOrder = append(s.parkedOrder[:i], s.parkedOrder[i+1:]...)
			break
		}
	}
	applyEdit(e, ed)
}

func (s *Store) tombstoneLocked(id string) {
	if _, ok := s.tombstones[id]; ok {
		return
	}
	s.tombstones[id] = struct{}{}
	s.tombOrder = append(s.tombOrder, id)
	if len(s.tombOrder) > maxTombstones {
		oldest := s.tombOrder[0]
		s.tombOrder = s.tombOrder[1:]
		delete(s.tombstones, oldest)
	}
}

func applyEdit(e *entry, ed Edit) {
	if !ed.UpdatedAt.IsZero() && ed.UpdatedAt.Before(e.msg.UpdatedAt) {
		return
	}
	e.msg.Body = ed.Body
	e.msg.IsEdited = true
	if !ed.UpdatedAt.IsZero() {
		e.msg.UpdatedAt = ed.UpdatedAt
	}
}

// merge overlays server fields on a local entry. Read state only moves
// forward, and a queued local edit keeps its body until it is replayed.
func merge(local, server Message, queuedEdit *string) Message {
	out := server
	out.Key = local.Key
	out.Status = local.Status
	out.Err = local.Err
	out.IsRead = server.IsRead || local.IsRead
	if out.ClientToken == "" {
		out.ClientToken = local.ClientToken
	}
	if local.IsEdited && local.UpdatedAt.After(server.UpdatedAt) {
		out.Body = local.Body
		out.IsEdited = true
		out.UpdatedAt = local.UpdatedAt
	}
	if queuedEdit != nil {
		out.Body = *queuedEdit
	}
	if out.Attachment == nil && local.Attachment != nil && local.Attachment.URL != "" {
		out.Attachment = local.Attachment
	}
	return out
}

func (c *conversation) less(a, b *entry) bool {
	if a.msg.CreatedAt.Equal(b.msg.CreatedAt) {
		return a.seq < b.seq
	}
	return a.msg.CreatedAt.Before(b.msg.CreatedAt)
}

func (c *conversation) insert(e *entry) {
	i := sort.Search(len(c.entries), func(i int) bool { return c.less(e, c.entries[i]) })
	c.entries = append(c.entries, nil)
	copy(c.entries[i+1:], c.entries[i:])
	c.entries[i] = e
}

func (c *conversation) resort() {
	sort.SliceStable(c.entries, func(i, j int) bool { return c.less(c.entries[i], c.entries[j]) })
}
