package session

import (
	"encoding/json"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/chat"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/presence"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/realtime"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/typing"
)

// Event is a decoded broadcast event waiting to be applied by the room's
// event loop.
type Event interface {
	apply(r *Room)
}

type Sent struct{ Message chat.Message }

type Edited struct{ Edit chat.Edit }

type Deleted struct{ ID string }

type ReadReceipt struct{ Receipt chat.ReadReceipt }

type PresenceSnapshot struct{ Members []presence.Member }

type Typing struct{ Event typing.Event }

func (e Sent) apply(r *Room) {
	m := e.Message
	if m.RoomID != r.id {
		return
	}
	r.store.ApplyIncoming(m)
	r.inbox.ApplyMessage(m)
	if m.SenderID != r.me {
		key := chat.KeyFor(m, r.me)
		if r.isOpen(key) {
			r.store.MarkAllRead(key)
			r.inbox.ResetUnread(key.PeerID)
		}
	}
}

func (e Edited) apply(r *Room) {
	r.store.ApplyEdited(e.Edit)
	r.inbox.ApplyEdited(e.Edit)
}

func (e Deleted) apply(r *Room) {
	r.store.ApplyDeleted(e.ID)
	r.inbox.ApplyDeleted(e.ID)
}

func (e ReadReceipt) apply(r *Room) {
	if e.Receipt.RoomID != r.id {
		return
	}
	r.store.ApplyReadReceipt(e.Receipt)
	r.inbox.ApplyReadReceipt(e.Receipt)
}

func (e PresenceSnapshot) apply(r *Room) {
	r.tracker.ApplySnapshot(e.Members)
}

func (e Typing) apply(r *Room) {
	if e.Event.RoomID != 0 && e.Event.RoomID != r.id {
		return
	}
	r.typing.HandleRemote(e.Event)
}

type decoder func(data json.RawMessage) (Event, error)

// decoders maps broadcast event names to their payload decoders. Presence
// snapshots are decoded by the tracker, which delivers them back through
// the loop.
var decoders = map[string]decoder{
	realtime.EventMessageSent: func(data json.RawMessage) (Event, error) {
		m, err := chat.DecodeMessage(data)
		return Sent{Message: m}, err
	},
	realtime.EventMessageEdited: func(data json.RawMessage) (Event, error) {
		ed, err := chat.DecodeEdit(data)
		return Edited{Edit: ed}, err
	},
	realtime.EventMessageDeleted: func(data json.RawMessage) (Event, error) {
		id, err := chat.DecodeDeleted(data)
		return Deleted{ID: id}, err
	},
	realtime.EventMessagesRead: func(data json.RawMessage) (Event, error) {
		rr, err := chat.DecodeReadReceipt(data)
		return ReadReceipt{Receipt: rr}, err
	},
	realtime.EventUserTyping: func(data json.RawMessage) (Event, error) {
		ev, err := typing.DecodeEvent(data)
		return Typing{Event: ev}, err
	},
}
