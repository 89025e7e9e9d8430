package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis"
	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack"

	"github.com/anthev-stack/communitypledges/pkg/model"
)

// RedisLog keeps the activity feed in Redis lists.
// Inspect from the CLI:
//      127.0.0.1:6379> lrange activity/payer/usr_123 0 20
//      127.0.0.1:6379> lrange activity/server/srv_abc 0 20
type RedisLog struct {
	client *redis.Client
}

var _ Log = (*RedisLog)(nil)

func NewRedisLog(redisURL string) (*RedisLog, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping().Err(); err != nil {
		return nil, err
	}

	return &RedisLog{client: client}, nil
}

func (r *RedisLog) Append(_ context.Context, record model.Activity) {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	data, err := msgpack.Marshal(&record)
	if err != nil {
		log.WithError(err).Warn("failed to serialize activity record")
		return
	}

	_, err = r.client.TxPipelined(func(p redis.Pipeliner) error {
		if record.PayerID != "" {
			p.LPush(r.payerKey(record.PayerID), data)
		}
		if record.ServerID != "" {
			p.LPush(r.serverKey(record.ServerID), data)
		}
		return nil
	})

	if err != nil {
		// Activity is best effort, billing never fails on it
		log.WithError(err).WithField("type", record.Type).Warn("failed to append activity record")
	}
}

func (r *RedisLog) Tail(payerID string, limit int64) ([]model.Activity, error) {
	items, err := r.client.LRange(r.payerKey(payerID), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}

	records := make([]model.Activity, 0, len(items))
	for _, item := range items {
		var record model.Activity
		if err := msgpack.Unmarshal([]byte(item), &record); err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	return records, nil
}

func (r *RedisLog) Close() error {
	return r.client.Close()
}

func (r *RedisLog) payerKey(payerID string) string {
	return fmt.Sprintf("activity/payer/%s", payerID)
}

func (r *RedisLog) serverKey(serverID string) string {
	return fmt.Sprintf("activity/server/%s", serverID)
}
