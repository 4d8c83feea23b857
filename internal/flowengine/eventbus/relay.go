package eventbus

import (
	"context"
	"encoding/json"

	"github.com/R3E-Network/flowengine/pkg/logger"
	"github.com/R3E-Network/flowengine/pkg/pgnotify"
)

// relayChannel is the single Postgres NOTIFY channel used to fan flow
// commits out to other engine processes sharing the same database. The
// flowId is carried in the payload rather than the channel name so that a
// single LISTEN covers every flow.
const relayChannel = "flowengine_commits"

// relayMessage is the wire envelope published on the Postgres channel.
type relayMessage struct {
	Type   EventType `json:"type"`
	FlowID string    `json:"flowId"`
	Seq    uint64    `json:"seq"`
}

// Relay bridges a local, in-process Bus to other engine processes sharing
// one Postgres database, via LISTEN/NOTIFY (pgnotify.Bus), generalized
// from pkg/pgnotify's generic Publish/Subscribe. Only FlowStatusChanged and
// StepStatusChanged notifications are relayed (full payloads are re-read by
// the peer from the Durable Store — the relay is a wakeup signal, not a
// transport for step data, matching spec §4.5: "external durability comes
// from reading snapshots").
type Relay struct {
	bus    *Bus
	pg     *pgnotify.Bus
	log    *logger.Logger
}

// NewRelay wires bus to the given pgnotify connection: events passed to
// Broadcast (the persistence Coordinator calls it on every commit) are sent
// out, and every remote notification re-publishes locally (with Seq intact)
// so this process's Live Update Channel subscribers observe commits made by
// any process.
func NewRelay(bus *Bus, pg *pgnotify.Bus, log *logger.Logger) (*Relay, error) {
	r := &Relay{bus: bus, pg: pg, log: log}

	err := pg.Subscribe(relayChannel, func(ctx context.Context, ev pgnotify.Event) error {
		var msg relayMessage
		if err := json.Unmarshal(ev.Payload, &msg); err != nil {
			if r.log != nil {
				r.log.WithField("error", err).Warn("pgnotify relay: malformed envelope")
			}
			return nil
		}
		bus.Publish(Event{Type: msg.Type, FlowID: msg.FlowID, Seq: msg.Seq})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Broadcast publishes a commit notification for other processes to pick up.
// Call this after a successful CAS write, alongside the local bus.Publish.
func (r *Relay) Broadcast(ctx context.Context, e Event) error {
	return r.pg.Publish(ctx, relayChannel, relayMessage{Type: e.Type, FlowID: e.FlowID, Seq: e.Seq})
}
