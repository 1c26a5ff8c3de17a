package service

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Devuelve {envios en la ventana, ms restantes de la ventana}.
const redisSendAllowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {current, redis.call("PTTL", KEYS[1])}
`

// redisSendRateLimiter comparte el limite entre instancias (ventana fija por identidad y room).
type redisSendRateLimiter struct {
	client redisEvaler
	window time.Duration
	max    int
	prefix string
}

type redisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

func NewRedisSendRateLimiter(client *redis.Client, window time.Duration, max int) SendRateLimiter {
	if client == nil {
		return nil
	}
	if window <= 0 {
		window = time.Minute
	}
	if max <= 0 {
		max = 1
	}
	return &redisSendRateLimiter{
		client: client,
		window: window,
		max:    max,
		prefix: "chat:send:rl:",
	}
}

func (l *redisSendRateLimiter) key(identity, roomID string) string {
	return l.prefix + strings.ToLower(strings.TrimSpace(identity)) + ":" + roomID
}

func (l *redisSendRateLimiter) Allow(identity, roomID string) (bool, time.Duration) {
	if l == nil || l.client == nil {
		return true, 0
	}
	if strings.TrimSpace(identity) == "" || strings.TrimSpace(roomID) == "" {
		return false, l.window
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	res, err := l.client.Eval(ctx, redisSendAllowScript, []string{l.key(identity, roomID)}, l.window.Milliseconds()).Int64Slice()
	if err != nil || len(res) != 2 {
		// Redis caido no bloquea el chat.
		return true, 0
	}
	if res[0] <= int64(l.max) {
		return true, 0
	}
	retry := time.Duration(res[1]) * time.Millisecond
	if retry <= 0 {
		retry = l.window
	}
	return false, retry
}
