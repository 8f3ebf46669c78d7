// Package dispatch fans published events out to room members over their
// per-connection send queues.
package dispatch

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
)

// ErrDeliveryFailed marks a single recipient that could not be reached.
// It is logged and swallowed; one dead recipient never aborts a fan-out.
var ErrDeliveryFailed = errors.New("delivery failed")

// Members is the room membership view, implemented by rooms.Router.
type Members interface {
	MembersOf(room domain.RoomName) []domain.ConnID
}

// Lookup resolves a connection id to its transport, implemented by
// app.Registry.
type Lookup interface {
	Signal(conn domain.ConnID) (core.SignalConnection, bool)
}

type Dispatcher struct {
	rooms Members
	conns Lookup
	evict func(domain.ConnID)
}

func NewDispatcher(rooms Members, conns Lookup) *Dispatcher {
	return &Dispatcher{rooms: rooms, conns: conns}
}

// OnEvict registers the handler for recipients whose send queue rejected
// a frame. The hub uses it to tear slow consumers down instead of letting
// them rot in every room they joined. Wire it before serving connections.
func (d *Dispatcher) OnEvict(fn func(domain.ConnID)) {
	d.evict = fn
}

// Publish delivers event/payload to every live member of the room except
// the excluded connections. Delivery is fire-and-forget per recipient;
// sender-order is preserved per recipient by the connection's FIFO send
// queue. Returns the number of successful deliveries.
func (d *Dispatcher) Publish(room domain.RoomName, event string, payload any, exclude ...domain.ConnID) int {
	frame, err := core.EncodeEvent(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "dispatch").Str("event", event).Msg("encode failed")
		return 0
	}
	skip := make(map[domain.ConnID]struct{}, len(exclude))
	for _, c := range exclude {
		skip[c] = struct{}{}
	}
	sent := 0
	for _, cid := range d.rooms.MembersOf(room) {
		if _, ok := skip[cid]; ok {
			continue
		}
		sig, ok := d.conns.Signal(cid)
		if !ok {
			// Raced a disconnect; the cleanup handler owns the room index.
			continue
		}
		if err := sig.TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "dispatch").Str("event", event).
				Str("room", string(room)).Str("conn", string(cid)).Msg(ErrDeliveryFailed.Error())
			if d.evict != nil {
				d.evict(cid)
			}
			continue
		}
		sent++
	}
	log.Debug().Str("module", "dispatch").Str("event", event).Str("room", string(room)).Int("sent", sent).Msg("published")
	return sent
}

// ToUser publishes to the user's personal room, reaching every device.
func (d *Dispatcher) ToUser(user domain.UserID, event string, payload any) int {
	return d.Publish(domain.UserRoom(user), event, payload)
}

// ToConn delivers to one specific connection.
func (d *Dispatcher) ToConn(conn domain.ConnID, event string, payload any) error {
	frame, err := core.EncodeEvent(event, payload)
	if err != nil {
		return err
	}
	sig, ok := d.conns.Signal(conn)
	if !ok {
		return ErrDeliveryFailed
	}
	if err := sig.TrySend(frame); err != nil {
		return errors.Join(ErrDeliveryFailed, err)
	}
	return nil
}
