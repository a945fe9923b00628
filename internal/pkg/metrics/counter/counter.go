package counter

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const overrideResolutionsKey = "price_override:counters:resolutions"

// Counter buffers override resolution counts in a Redis hash and flushes
// them into price_overrides.resolution_count in batches.
type Counter struct {
	rdb *redis.Client
	db  *gorm.DB
	key string
}

// New creates a counter on top of a Redis client and the database.
func New(rdb *redis.Client, db *gorm.DB) *Counter {
	return &Counter{rdb: rdb, db: db, key: overrideResolutionsKey}
}

// AddResolution increments the pending resolution counter of an override
func (c *Counter) AddResolution(ctx context.Context, fingerprint string) error {
	return c.rdb.HIncrBy(ctx, c.key, fingerprint, 1).Err()
}

// Record counts a resolution and only logs failures, so resolution never
// fails because Redis is unavailable.
func (c *Counter) Record(ctx context.Context, fingerprint string) {
	if err := c.AddResolution(ctx, fingerprint); err != nil {
		log.Warnf("[Counter] Failed to count resolution of %s: %v", fingerprint, err)
	}
}

// Pending returns the not yet flushed count of an override
func (c *Counter) Pending(ctx context.Context, fingerprint string) (int64, error) {
	n, err := c.rdb.HGet(ctx, c.key, fingerprint).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

// Flush drains the Redis hash and applies the increments to the database.
// It returns the number of overrides updated.
func (c *Counter) Flush(ctx context.Context) (int, error) {
	// Atomically move the hash to a temp key so increments arriving during
	// the flush land in a fresh hash
	tmpKey := fmt.Sprintf("%s:tmp:%d", c.key, time.Now().UnixNano())
	if err := c.rdb.Rename(ctx, c.key, tmpKey).Err(); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "no such key") || err == redis.Nil {
			return 0, nil
		}
		return 0, err
	}
	defer c.rdb.Del(ctx, tmpKey)

	data, err := c.rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return 0, err
	}

	type pair struct {
		fingerprint string
		inc         int64
	}
	pairs := make([]pair, 0, len(data))
	for k, v := range data {
		inc, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil || inc == 0 {
			continue
		}
		pairs = append(pairs, pair{fingerprint: k, inc: inc})
	}
	if len(pairs) == 0 {
		return 0, nil
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].fingerprint < pairs[j].fingerprint })

	// UPDATE price_overrides SET resolution_count = resolution_count + CASE fingerprint WHEN ? THEN ? ... END WHERE fingerprint IN (...)
	var builder strings.Builder
	args := make([]interface{}, 0, len(pairs)*3)
	builder.WriteString("UPDATE price_overrides SET resolution_count = resolution_count + CASE fingerprint")
	for _, p := range pairs {
		builder.WriteString(" WHEN ? THEN ?")
		args = append(args, p.fingerprint, p.inc)
	}
	builder.WriteString(" ELSE 0 END WHERE fingerprint IN (")
	for i, p := range pairs {
		if i > 0 {
			builder.WriteString(",")
		}
		builder.WriteString("?")
		args = append(args, p.fingerprint)
	}
	builder.WriteString(")")

	if err := c.db.WithContext(ctx).Exec(builder.String(), args...).Error; err != nil {
		return 0, err
	}
	return len(pairs), nil
}
