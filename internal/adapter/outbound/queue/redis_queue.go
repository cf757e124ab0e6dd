package queue

import (
	"context"
	"fmt"
	"time"

	"enrichd/internal/port/outbound"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	tenantsKey       = "enrichd:queue:tenants"
	delayedKey       = "enrichd:queue:delayed"
	partitionKeyFmt  = "enrichd:queue:tenant:%s"
	delayedMemberFmt = "%s|%s"

	redisPollInterval = 200 * time.Millisecond
)

// RedisQueueConfig configures the Redis-backed queue.
type RedisQueueConfig struct {
	Addr     string
	Password string
	DB       int
	MaxDepth int
}

// Validate checks the configuration.
func (c RedisQueueConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("redis queue address cannot be empty")
	}
	return nil
}

// RedisQueue is a tenant-partitioned queue on Redis lists, for deployments
// where API and workers run in separate processes. Each tenant gets a list;
// a set tracks live partitions for round-robin; a sorted set scored by
// ready-time holds delayed entries, promoted lazily on Pop.
type RedisQueue struct {
	config RedisQueueConfig
	client *redis.Client
	cursor int
}

// NewRedisQueue connects to Redis and verifies connectivity.
func NewRedisQueue(ctx context.Context, config RedisQueueConfig) (*RedisQueue, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisQueue{config: config, client: client}, nil
}

// Push appends the job to its tenant list, enforcing the admission cap
// against the summed depth of all partitions.
func (q *RedisQueue) Push(ctx context.Context, tenantID string, jobID uuid.UUID) error {
	if q.config.MaxDepth > 0 {
		depth, err := q.Depth(ctx)
		if err != nil {
			return err
		}
		if depth >= q.config.MaxDepth {
			return outbound.ErrQueueSaturated
		}
	}
	return q.enqueue(ctx, tenantID, jobID)
}

// PushDelayed schedules the job via the delayed sorted set. No admission
// cap: delayed entries are requeues of already-admitted work.
func (q *RedisQueue) PushDelayed(ctx context.Context, tenantID string, jobID uuid.UUID, delay time.Duration) error {
	if delay <= 0 {
		return q.enqueue(ctx, tenantID, jobID)
	}

	member := fmt.Sprintf(delayedMemberFmt, tenantID, jobID)
	score := float64(time.Now().Add(delay).UnixMilli())
	if err := q.client.ZAdd(ctx, delayedKey, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return fmt.Errorf("schedule delayed entry: %w", err)
	}
	return nil
}

func (q *RedisQueue) enqueue(ctx context.Context, tenantID string, jobID uuid.UUID) error {
	pipe := q.client.TxPipeline()
	pipe.SAdd(ctx, tenantsKey, tenantID)
	pipe.LPush(ctx, partitionKey(tenantID), jobID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// Pop promotes due delayed entries, then polls tenant lists round-robin
// until a job arrives or timeout elapses.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (outbound.QueuedJob, error) {
	deadline := time.Now().Add(timeout)

	for {
		if err := q.promoteDue(ctx); err != nil {
			return outbound.QueuedJob{}, err
		}

		job, ok, err := q.tryPop(ctx)
		if err != nil {
			return outbound.QueuedJob{}, err
		}
		if ok {
			return job, nil
		}

		if time.Now().After(deadline) {
			return outbound.QueuedJob{}, outbound.ErrQueueEmpty
		}
		select {
		case <-ctx.Done():
			return outbound.QueuedJob{}, ctx.Err()
		case <-time.After(redisPollInterval):
		}
	}
}

// promoteDue moves entries whose ready-time has passed from the delayed set
// into their tenant lists.
func (q *RedisQueue) promoteDue(ctx context.Context) error {
	nowScore := fmt.Sprintf("%d", time.Now().UnixMilli())
	due, err := q.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: nowScore,
	}).Result()
	if err != nil {
		return fmt.Errorf("read delayed entries: %w", err)
	}

	for _, member := range due {
		// Only the winner of the ZRem promotes, so concurrent workers
		// never double-enqueue one entry.
		removed, err := q.client.ZRem(ctx, delayedKey, member).Result()
		if err != nil {
			return fmt.Errorf("remove delayed entry: %w", err)
		}
		if removed == 0 {
			continue
		}

		tenantID, rawID := splitDelayedMember(member)
		jobID, parseErr := uuid.Parse(rawID)
		if tenantID == "" || parseErr != nil {
			continue
		}
		if err := q.enqueue(ctx, tenantID, jobID); err != nil {
			return err
		}
	}
	return nil
}

func splitDelayedMember(member string) (tenantID, jobID string) {
	for i := len(member) - 1; i >= 0; i-- {
		if member[i] == '|' {
			return member[:i], member[i+1:]
		}
	}
	return "", ""
}

// tryPop attempts one round-robin sweep over the tenant partitions.
func (q *RedisQueue) tryPop(ctx context.Context) (outbound.QueuedJob, bool, error) {
	tenants, err := q.client.SMembers(ctx, tenantsKey).Result()
	if err != nil {
		return outbound.QueuedJob{}, false, fmt.Errorf("list tenant partitions: %w", err)
	}
	if len(tenants) == 0 {
		return outbound.QueuedJob{}, false, nil
	}

	for range tenants {
		tenantID := tenants[q.cursor%len(tenants)]
		q.cursor++

		raw, err := q.client.RPop(ctx, partitionKey(tenantID)).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return outbound.QueuedJob{}, false, fmt.Errorf("pop from partition: %w", err)
		}

		jobID, parseErr := uuid.Parse(raw)
		if parseErr != nil {
			continue
		}
		return outbound.QueuedJob{JobID: jobID, TenantID: tenantID}, true, nil
	}
	return outbound.QueuedJob{}, false, nil
}

// Depth sums the lengths of all tenant partitions.
func (q *RedisQueue) Depth(ctx context.Context) (int, error) {
	depths, err := q.DepthByTenant(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, depth := range depths {
		total += depth
	}
	return total, nil
}

// DepthByTenant returns the length of each tenant partition.
func (q *RedisQueue) DepthByTenant(ctx context.Context) (map[string]int, error) {
	tenants, err := q.client.SMembers(ctx, tenantsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list tenant partitions: %w", err)
	}

	depths := make(map[string]int, len(tenants))
	for _, tenantID := range tenants {
		length, err := q.client.LLen(ctx, partitionKey(tenantID)).Result()
		if err != nil {
			return nil, fmt.Errorf("partition length: %w", err)
		}
		if length > 0 {
			depths[tenantID] = int(length)
		}
	}
	return depths, nil
}

// Close releases the Redis connection.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func partitionKey(tenantID string) string {
	return fmt.Sprintf(partitionKeyFmt, tenantID)
}
