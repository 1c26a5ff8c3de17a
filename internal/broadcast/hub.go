// Package broadcast implementa el canal en vivo por room: join, leave, publish.
// No guarda historial; quien se une despues de un publish no lo recibe.
package broadcast

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"talentchat/internal/domain"
	"talentchat/internal/metrics"
)

const (
	EventMessage = "chat.message"

	defaultBuffer = 64
)

var ErrSubscriberClosed = errors.New("subscriber closed")

// Event es la carga que recibe cada suscriptor. ServerTime es el reloj del
// servidor al publicar, no el created_at autoritativo del store.
type Event struct {
	Type       string         `json:"type"`
	Message    domain.Message `json:"message"`
	ServerTime string         `json:"server_time"`
}

// Delivery resume un publish.
type Delivery struct {
	Delivered int
	Dropped   int
}

// Subscriber es una conexion viva. Events() se drena desde el writer de la conexion.
type Subscriber struct {
	ID       string
	Identity string

	out  chan Event
	done chan struct{}

	mu     sync.Mutex
	closed bool
	rooms  map[string]struct{}
}

// Events devuelve el canal de salida. Nunca se cierra; usar Done() para terminar.
func (s *Subscriber) Events() <-chan Event { return s.out }

// Done se cierra cuando el suscriptor se desconecta.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Rooms devuelve los rooms a los que esta unido.
func (s *Subscriber) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		out = append(out, id)
	}
	return out
}

type roomChannel struct {
	mu          sync.Mutex
	id          string
	evicted     bool
	subscribers map[*Subscriber]struct{}
}

// Hub es el registro room -> suscriptores. Cada room tiene su propio lock;
// el lock del hub solo protege el mapa.
type Hub struct {
	logger *zap.Logger
	buffer int
	now    func() time.Time

	mu    sync.Mutex
	rooms map[string]*roomChannel
}

func NewHub(logger *zap.Logger, buffer int) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		logger: logger,
		buffer: buffer,
		now:    func() time.Time { return time.Now().UTC() },
		rooms:  make(map[string]*roomChannel),
	}
}

// NewSubscriber crea un suscriptor sin rooms.
func (h *Hub) NewSubscriber(identity string) *Subscriber {
	metrics.ActiveSubscribers.Inc()
	return &Subscriber{
		ID:       uuid.NewString(),
		Identity: strings.TrimSpace(identity),
		out:      make(chan Event, h.buffer),
		done:     make(chan struct{}),
		rooms:    make(map[string]struct{}),
	}
}

func (h *Hub) room(roomID string) *roomChannel {
	h.mu.Lock()
	defer h.mu.Unlock()
	rc, ok := h.rooms[roomID]
	if !ok {
		rc = &roomChannel{id: roomID, subscribers: make(map[*Subscriber]struct{})}
		h.rooms[roomID] = rc
	}
	return rc
}

func (h *Hub) lookup(roomID string) *roomChannel {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[roomID]
}

// Join registra sub en roomID. Idempotente.
func (h *Hub) Join(sub *Subscriber, roomID string) error {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return ErrSubscriberClosed
	}
	for {
		rc := h.room(roomID)
		rc.mu.Lock()
		if rc.evicted {
			// el room se vacio y salio del mapa entre room() y Lock; reintentar
			rc.mu.Unlock()
			continue
		}
		rc.subscribers[sub] = struct{}{}
		rc.mu.Unlock()
		break
	}
	sub.rooms[roomID] = struct{}{}
	return nil
}

// Leave quita sub de roomID.
func (h *Hub) Leave(sub *Subscriber, roomID string) {
	sub.mu.Lock()
	delete(sub.rooms, roomID)
	sub.mu.Unlock()
	h.remove(sub, roomID)
}

func (h *Hub) remove(sub *Subscriber, roomID string) {
	rc := h.lookup(roomID)
	if rc == nil {
		return
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.subscribers, sub)
	if len(rc.subscribers) > 0 || rc.evicted {
		return
	}
	h.mu.Lock()
	if h.rooms[roomID] == rc {
		delete(h.rooms, roomID)
	}
	h.mu.Unlock()
	rc.evicted = true
}

// Disconnect saca a sub de todos sus rooms y cierra Done(). Idempotente.
func (h *Hub) Disconnect(sub *Subscriber) {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.closed = true
	close(sub.done)
	rooms := make([]string, 0, len(sub.rooms))
	for id := range sub.rooms {
		rooms = append(rooms, id)
	}
	sub.rooms = make(map[string]struct{})
	sub.mu.Unlock()

	for _, id := range rooms {
		h.remove(sub, id)
	}
	metrics.ActiveSubscribers.Dec()
	h.logger.Debug("subscriber disconnected",
		zap.String("subscriber_id", sub.ID),
		zap.String("identity", sub.Identity),
		zap.Int("rooms", len(rooms)),
	)
}

// Publish entrega msg a los suscriptores presentes en roomID en este momento.
// La entrega no bloquea: si el buffer de un suscriptor esta lleno el evento se descarta.
func (h *Hub) Publish(roomID string, msg domain.Message) Delivery {
	return h.deliver(roomID, Event{
		Type:       EventMessage,
		Message:    msg,
		ServerTime: h.now().Format(time.RFC3339Nano),
	})
}

func (h *Hub) deliver(roomID string, event Event) Delivery {
	var d Delivery
	rc := h.lookup(roomID)
	if rc == nil {
		return d
	}

	rc.mu.Lock()
	subscribers := make([]*Subscriber, 0, len(rc.subscribers))
	for sub := range rc.subscribers {
		subscribers = append(subscribers, sub)
	}
	rc.mu.Unlock()

	for _, sub := range subscribers {
		select {
		case <-sub.done:
			continue
		default:
		}
		select {
		case sub.out <- event:
			d.Delivered++
		default:
			d.Dropped++
			h.logger.Warn("broadcast dropped for slow subscriber",
				zap.String("room_id", roomID),
				zap.String("subscriber_id", sub.ID),
			)
		}
	}
	metrics.BroadcastDelivered.Add(float64(d.Delivered))
	metrics.BroadcastDropped.Add(float64(d.Dropped))
	return d
}

// SubscriberCount devuelve cuantos suscriptores tiene roomID.
func (h *Hub) SubscriberCount(roomID string) int {
	rc := h.lookup(roomID)
	if rc == nil {
		return 0
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.subscribers)
}

// RoomCount devuelve cuantos rooms tienen al menos un suscriptor.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}
