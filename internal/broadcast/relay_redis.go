package broadcast

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"talentchat/internal/domain"
	"talentchat/internal/metrics"
)

const relayChannelPrefix = "talentchat:room:"

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

type relayEnvelope struct {
	Origin string `json:"origin"`
	RoomID string `json:"room_id"`
	Event  Event  `json:"event"`
}

// RedisRelay extiende un Hub local a varias instancias usando pub/sub de Redis.
// Cada instancia entrega localmente y reenvia; los mensajes propios se ignoran al volver.
type RedisRelay struct {
	hub      *Hub
	client   *redis.Client
	pub      redisPublisher
	instance string
	logger   *zap.Logger
	timeout  time.Duration
}

func NewRedisRelay(hub *Hub, client *redis.Client, logger *zap.Logger) *RedisRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRelay{
		hub:      hub,
		client:   client,
		pub:      client,
		instance: uuid.NewString(),
		logger:   logger,
		timeout:  500 * time.Millisecond,
	}
}

// Publish entrega en este proceso y reenvia al resto de instancias.
// Un fallo de Redis solo afecta a las otras instancias.
func (r *RedisRelay) Publish(roomID string, msg domain.Message) Delivery {
	event := Event{
		Type:       EventMessage,
		Message:    msg,
		ServerTime: r.hub.now().Format(time.RFC3339Nano),
	}
	d := r.hub.deliver(roomID, event)

	payload, err := json.Marshal(relayEnvelope{Origin: r.instance, RoomID: roomID, Event: event})
	if err != nil {
		metrics.RelayErrors.WithLabelValues("encode").Inc()
		r.logger.Error("relay encode failed", zap.Error(err), zap.String("room_id", roomID))
		return d
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.pub.Publish(ctx, relayChannelPrefix+roomID, payload).Err(); err != nil {
		metrics.RelayErrors.WithLabelValues("publish").Inc()
		r.logger.Warn("relay publish failed", zap.Error(err), zap.String("room_id", roomID))
	}
	return d
}

// Run escucha los rooms de todas las instancias hasta que ctx se cancela.
func (r *RedisRelay) Run(ctx context.Context) error {
	ps := r.client.PSubscribe(ctx, relayChannelPrefix+"*")
	defer ps.Close()

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(m.Channel, m.Payload)
		}
	}
}

func (r *RedisRelay) handle(channel, payload string) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		metrics.RelayErrors.WithLabelValues("decode").Inc()
		r.logger.Warn("relay decode failed", zap.Error(err), zap.String("channel", channel))
		return
	}
	if env.Origin == r.instance {
		return
	}
	if env.RoomID != strings.TrimPrefix(channel, relayChannelPrefix) {
		metrics.RelayErrors.WithLabelValues("decode").Inc()
		r.logger.Warn("relay room mismatch", zap.String("channel", channel), zap.String("room_id", env.RoomID))
		return
	}
	r.hub.deliver(env.RoomID, env.Event)
}
