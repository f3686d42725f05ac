package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/quick-commerce/internal/core/domain"
)

const (
	idempotencyKeyPrefix = "idempotency:"
	idempotencyKeyTTL    = 24 * time.Hour
	offerChannelPrefix   = "offers:"
)

type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyKeyPrefix+key).Err()
}

// Send publishes the offer on the rider's channel. Subscribers that are not
// connected simply miss it; offers are advisory.
func (r *RedisAdapter) Send(ctx context.Context, offer domain.RiderOffer) error {
	payload, err := json.Marshal(offer)
	if err != nil {
		return fmt.Errorf("marshal offer: %w", err)
	}
	return r.client.Publish(ctx, OfferChannel(offer.RiderID), payload).Err()
}

// SubscribeOffers streams offers published for riderID until ctx is done.
func (r *RedisAdapter) SubscribeOffers(ctx context.Context, riderID string) (<-chan domain.RiderOffer, error) {
	sub := r.client.Subscribe(ctx, OfferChannel(riderID))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe offers: %w", err)
	}

	out := make(chan domain.RiderOffer)
	go func() {
		defer close(out)
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var offer domain.RiderOffer
				if err := json.Unmarshal([]byte(msg.Payload), &offer); err != nil {
					continue
				}
				select {
				case out <- offer:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func OfferChannel(riderID string) string {
	return offerChannelPrefix + riderID
}
