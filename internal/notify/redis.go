package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	platformredis "caseguard/internal/platform/redis"
)

const defaultQueueKey = "caseguard:notifications"

// RedisQueue backs the notification path with a Redis list. LPUSH/BRPOP
// gives FIFO delivery with a blocking consumer and no polling loop.
type RedisQueue struct {
	client *platformredis.Client
	key    string
}

func NewRedisQueue(client *platformredis.Client) *RedisQueue {
	return &RedisQueue{client: client, key: defaultQueueKey}
}

func (q *RedisQueue) Enqueue(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Message, error) {
	res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue notification: %w", err)
	}
	// BRPop returns [key, value].
	if len(res) != 2 {
		return nil, nil
	}
	var msg Message
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}
	return &msg, nil
}
