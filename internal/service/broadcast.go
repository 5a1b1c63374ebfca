package service

import (
	"github.com/op/go-logging"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/realtime"
)

var log = logging.MustGetLogger("service")

// Broadcaster delivers an event to every subscriber of a channel.
type Broadcaster interface {
	Publish(channel, event string, data any)
}

// channelsFor lists the channels a message's events go to: both private
// user channels for a direct message, the room channel otherwise.
func channelsFor(roomID, senderID int64, receiverID *int64) []string {
	if receiverID == nil {
		return []string{realtime.RoomChannel(roomID)}
	}
	chans := []string{realtime.UserChannel(*receiverID)}
	if *receiverID != senderID {
		chans = append(chans, realtime.UserChannel(senderID))
	}
	return chans
}

func publishAll(bus Broadcaster, channels []string, event string, data any) {
	for _, ch := range channels {
		bus.Publish(ch, event, data)
	}
}
