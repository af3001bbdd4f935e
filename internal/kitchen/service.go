package kitchen

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	kafkax "github.com/ariefcatur/go-tiffin-subscriptions/internal/kafka"
	"github.com/ariefcatur/go-tiffin-subscriptions/internal/metrics"
	"github.com/ariefcatur/go-tiffin-subscriptions/internal/redisx"
	"github.com/ariefcatur/go-tiffin-subscriptions/internal/subscriptions"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Service keeps, per delivery slot, which subscriptions skip the meal and
// which ones confirmed their own items. It is fed by meal state events.
type Service struct {
	Redis   *redis.Client
	Log     *zap.Logger
	Metrics *metrics.Metrics
	Name    string // dedup namespace
}

// HandleMealState is installed as the consumer handler.
func (s *Service) HandleMealState(ctx context.Context, m kafkago.Message) error {
	var env subscriptions.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// a poison message would block the partition forever; drop it
		s.logger().Warn("undecodable event dropped", zap.Int64("offset", m.Offset), zap.Error(err))
		s.count("unknown", "malformed")
		return nil
	}
	switch env.EventType {
	case subscriptions.EventMealSkipped, subscriptions.EventMealActivated, subscriptions.EventSelectionConfirmed:
	default:
		return nil
	}

	p, err := kafkax.UnwrapPayload[subscriptions.MealStatePayload](env.Payload)
	if err != nil {
		s.logger().Warn("bad payload dropped", zap.String("event_id", env.EventID), zap.Error(err))
		s.count(env.EventType, "malformed")
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, s.name(), env.EventID)
	claimed, err := redisx.Claim(ctx, s.Redis, dkey, redisx.TTLDedup)
	if err != nil {
		return err
	}
	if !claimed {
		s.count(env.EventType, "duplicate")
		return nil
	}

	if err := s.apply(ctx, env.EventType, p); err != nil {
		// release the claim so the retry is not taken for a duplicate
		if derr := s.Redis.Del(ctx, dkey).Err(); derr != nil {
			s.logger().Warn("dedup release failed", zap.String("event_id", env.EventID), zap.String("key", dkey), zap.Error(derr))
		}
		s.count(env.EventType, "error")
		return err
	}
	s.count(env.EventType, "applied")
	return nil
}

func (s *Service) apply(ctx context.Context, eventType string, p subscriptions.MealStatePayload) error {
	skips := fmt.Sprintf(redisx.KeyKitchenSkips, p.Date, p.MealTime)
	picks := fmt.Sprintf(redisx.KeyKitchenPicks, p.Date, p.MealTime)
	member := strconv.FormatInt(p.SubscriptionID, 10)

	var items []byte
	if eventType == subscriptions.EventSelectionConfirmed {
		items = kafkax.MustMarshal(p.Items)
	}

	_, err := s.Redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		switch eventType {
		case subscriptions.EventMealSkipped:
			pipe.SAdd(ctx, skips, member)
			pipe.HDel(ctx, picks, member)
		case subscriptions.EventMealActivated:
			pipe.SRem(ctx, skips, member)
			pipe.HDel(ctx, picks, member)
		case subscriptions.EventSelectionConfirmed:
			pipe.SRem(ctx, skips, member)
			pipe.HSet(ctx, picks, member, items)
		}
		pipe.Expire(ctx, skips, redisx.TTLKitchen)
		pipe.Expire(ctx, picks, redisx.TTLKitchen)
		return nil
	})
	return err
}

type Slot struct {
	Date     string                                  `json:"date"`
	MealTime string                                  `json:"meal_time"`
	Skipped  []int64                                 `json:"skipped"`
	Picks    map[int64][]subscriptions.ItemSelection `json:"picks"`
}

// Projection reads the slot for date and mealTime. An unknown slot is empty.
func (s *Service) Projection(ctx context.Context, date, mealTime string) (Slot, error) {
	slot := Slot{Date: date, MealTime: mealTime, Skipped: []int64{}, Picks: map[int64][]subscriptions.ItemSelection{}}

	members, err := s.Redis.SMembers(ctx, fmt.Sprintf(redisx.KeyKitchenSkips, date, mealTime)).Result()
	if err != nil {
		return Slot{}, err
	}
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		slot.Skipped = append(slot.Skipped, id)
	}
	sort.Slice(slot.Skipped, func(i, j int) bool { return slot.Skipped[i] < slot.Skipped[j] })

	picks, err := s.Redis.HGetAll(ctx, fmt.Sprintf(redisx.KeyKitchenPicks, date, mealTime)).Result()
	if err != nil {
		return Slot{}, err
	}
	for k, v := range picks {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		var items []subscriptions.ItemSelection
		if err := json.Unmarshal([]byte(v), &items); err != nil {
			s.logger().Warn("bad kitchen pick", zap.String("subscription", k), zap.Error(err))
			continue
		}
		slot.Picks[id] = items
	}
	return slot, nil
}

func (s *Service) name() string {
	if s.Name == "" {
		return "kitchen"
	}
	return s.Name
}

func (s *Service) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func (s *Service) count(eventType, outcome string) {
	if s.Metrics != nil {
		s.Metrics.EventsApplied.WithLabelValues(eventType, outcome).Inc()
	}
}
