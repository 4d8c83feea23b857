// Package live implements the Live Update Channel (spec §4.6): a WebSocket
// push surface that, on subscribe, sends a full snapshot followed by
// incremental deltas as they are published on the Event Bus, generalized
// from the teacher's gorilla/mux routing convention with a gorilla/websocket
// upgrader added for the push transport itself.
package live

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/R3E-Network/flowengine/internal/domain/flow"
	"github.com/R3E-Network/flowengine/internal/flowengine/eventbus"
	"github.com/R3E-Network/flowengine/pkg/engineerr"
	"github.com/R3E-Network/flowengine/pkg/logger"
	"github.com/R3E-Network/flowengine/pkg/metrics"
)

// FlowLoader fetches the current snapshot for the initial full-state push.
type FlowLoader interface {
	Load(ctx context.Context, flowID string) (*flow.Snapshot, error)
}

// Message is the envelope sent to a subscriber: either a full snapshot
// ("Snapshot") on connect or an incremental bus event ("Event") afterward.
type Message struct {
	Kind     string         `json:"kind"`
	Snapshot *flow.Snapshot `json:"snapshot,omitempty"`
	Event    *eventEnvelope `json:"event,omitempty"`
}

type eventEnvelope struct {
	Type   eventbus.EventType `json:"type"`
	FlowID string             `json:"flowId"`
	Seq    uint64             `json:"seq"`
	Data   interface{}        `json:"data,omitempty"`
}

// Server hosts the live-update WebSocket endpoints.
type Server struct {
	bus        *eventbus.Bus
	loader     FlowLoader
	log        *logger.Logger
	bufferSize int
	upgrader   websocket.Upgrader
}

// NewServer builds a live Server over the process's event bus.
func NewServer(bus *eventbus.Bus, loader FlowLoader, log *logger.Logger, bufferSize int) *Server {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Server{
		bus:        bus,
		loader:     loader,
		log:        log,
		bufferSize: bufferSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the mux.Router exposing /flows/{id}/subscribe (per-flow)
// and /admin/subscribe (all flows, for operator dashboards and the
// BatchResult aggregate, spec §4.6).
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/flows/{id}/subscribe", s.handleFlowSubscribe).Methods(http.MethodGet)
	r.HandleFunc("/admin/subscribe", s.handleAdminSubscribe).Methods(http.MethodGet)
	return r
}

func (s *Server) handleFlowSubscribe(w http.ResponseWriter, r *http.Request) {
	flowID := mux.Vars(r)["id"]
	if flowID == "" {
		http.Error(w, "missing flow id", http.StatusBadRequest)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithField("error", err).Warn("live: upgrade failed")
		return
	}
	s.serve(conn, flowID, false)
}

func (s *Server) handleAdminSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithField("error", err).Warn("live: upgrade failed")
		return
	}
	s.serve(conn, "", true)
}

// serve pushes the full snapshot (flow-scoped subscriptions only) then
// streams bus events until the connection closes (spec §4.6: "full
// snapshot, then deltas").
func (s *Server) serve(conn *websocket.Conn, flowID string, admin bool) {
	metrics.LiveSubscribers.Inc()
	defer metrics.LiveSubscribers.Dec()
	defer conn.Close()

	outbox := make(chan Message, s.bufferSize)
	var closeOnce sync.Once
	closed := make(chan struct{})
	closeConn := func() { closeOnce.Do(func() { close(closed) }) }

	handler := func(e eventbus.Event) {
		msg := Message{Kind: "Event", Event: &eventEnvelope{Type: e.Type, FlowID: e.FlowID, Seq: e.Seq, Data: e.Payload}}
		select {
		case outbox <- msg:
		default:
			// Slow consumer: drop rather than block the publisher (spec §4.6:
			// "a disconnected or backlogged subscriber never slows the engine").
		}
	}

	var unsubscribe func()
	if admin {
		unsubscribe = s.bus.SubscribeAdmin(handler)
	} else {
		if snap, err := s.loader.Load(context.Background(), flowID); err == nil {
			outbox <- Message{Kind: "Snapshot", Snapshot: snap}
		} else if engineerr.CodeOf(err) != engineerr.CodeNotFound {
			s.log.WithField("flow_id", flowID).WithField("error", err).Warn("live: failed to load initial snapshot")
		}
		unsubscribe = s.bus.SubscribeFlow(flowID, handler)
	}
	defer unsubscribe()

	go s.readPump(conn, closeConn)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case msg := <-outbox:
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

// readPump drains and discards client frames, solely to detect disconnects
// (this channel is push-only from the engine's side).
func (s *Server) readPump(conn *websocket.Conn, onClose func()) {
	defer onClose()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
