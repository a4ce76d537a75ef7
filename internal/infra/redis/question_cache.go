// Package redis shares surplus fetched questions across process restarts and
// instances, cutting down on provider calls.
package redis

import (
	"context"
	"encoding/json"
	"time"

	"geo-trivia-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

const questionsKey = "trivia:questions:geography"

// Fetcher is the remote question source this cache decorates.
type Fetcher interface {
	FetchBatch(ctx context.Context, count int) ([]domain.Question, error)
}

// QuestionCache serves fetched questions out of a Redis list before touching
// the remote provider, and banks the surplus of oversized remote batches.
// Redis outages degrade it to a passthrough; a fetch error only propagates
// when the cache contributed nothing.
type QuestionCache struct {
	client    *redis.Client
	fetcher   Fetcher
	batchSize int
	ttl       time.Duration
}

// NewQuestionCache wraps fetcher. batchSize is the amount requested from the
// provider on a cache miss; asking for a full batch even when the caller
// needs less is what fills the bank.
func NewQuestionCache(client *redis.Client, fetcher Fetcher, batchSize int, ttl time.Duration) *QuestionCache {
	return &QuestionCache{client: client, fetcher: fetcher, batchSize: batchSize, ttl: ttl}
}

func (c *QuestionCache) FetchBatch(ctx context.Context, count int) ([]domain.Question, error) {
	cached := c.popCached(ctx, count)
	if len(cached) >= count {
		return cached, nil
	}

	amount := c.batchSize
	if count > amount {
		amount = count
	}
	fetched, err := c.fetcher.FetchBatch(ctx, amount)
	if err != nil {
		if len(cached) > 0 {
			return cached, nil
		}
		return nil, err
	}

	combined := append(cached, fetched...)
	if len(combined) > count {
		c.bank(ctx, combined[count:])
		combined = combined[:count]
	}
	return combined, nil
}

func (c *QuestionCache) popCached(ctx context.Context, count int) []domain.Question {
	questions := make([]domain.Question, 0, count)
	for len(questions) < count {
		raw, err := c.client.LPop(ctx, questionsKey).Result()
		if err != nil {
			break
		}
		var q domain.Question
		if json.Unmarshal([]byte(raw), &q) != nil {
			continue
		}
		questions = append(questions, q)
	}
	return questions
}

// bank pushes surplus questions for later batches, best-effort.
func (c *QuestionCache) bank(ctx context.Context, questions []domain.Question) {
	pipe := c.client.Pipeline()
	for _, q := range questions {
		raw, err := json.Marshal(q)
		if err != nil {
			continue
		}
		pipe.RPush(ctx, questionsKey, raw)
	}
	if c.ttl > 0 {
		pipe.Expire(ctx, questionsKey, c.ttl)
	}
	_, _ = pipe.Exec(ctx)
}
