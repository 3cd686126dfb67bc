package httpapi

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	headerRateLimit     = "X-RateLimit-Limit"
	headerRateRemaining = "X-RateLimit-Remaining"
	headerRetryAfter    = "Retry-After"
	errorRateLimited    = "too_many_requests"
)

var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local refill_tokens = tonumber(ARGV[3])
local interval_ms = tonumber(ARGV[4])
local ttl_seconds = tonumber(ARGV[5])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])
if tokens == nil or last_refill == nil then
	tokens = capacity
	last_refill = now_ms
end

if interval_ms > 0 and refill_tokens > 0 then
	local intervals = math.floor(math.max(0, now_ms - last_refill) / interval_ms)
	if intervals > 0 then
		tokens = math.min(capacity, tokens + intervals * refill_tokens)
		last_refill = last_refill + intervals * interval_ms
	end
end

local allowed = 0
local retry_after_ms = 0
if tokens > 0 then
	allowed = 1
	tokens = tokens - 1
else
	retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
redis.call('EXPIRE', key, ttl_seconds)
return { allowed, tokens, retry_after_ms }
`)

// bucketDecision is the outcome of taking one token.
type bucketDecision struct {
	allowed    bool
	remaining  int64
	retryAfter time.Duration
}

type tokenBucket interface {
	take(ctx context.Context, key string) (bucketDecision, error)
}

// redisBucket evaluates the token bucket atomically inside Redis.
type redisBucket struct {
	client redis.Scripter
	config RateLimitConfig
	now    func() time.Time
}

func newRedisBucket(client redis.Scripter, config RateLimitConfig) *redisBucket {
	return &redisBucket{client: client, config: config, now: time.Now}
}

func (bucket *redisBucket) take(ctx context.Context, key string) (bucketDecision, error) {
	values, err := tokenBucketScript.Run(ctx, bucket.client, []string{key},
		bucket.now().UnixMilli(),
		bucket.config.Capacity,
		bucket.config.RefillTokens,
		bucket.config.RefillInterval.Milliseconds(),
		int64(bucket.config.TTL/time.Second),
	).Int64Slice()
	if err != nil {
		return bucketDecision{}, err
	}
	if len(values) != 3 {
		return bucketDecision{}, fmt.Errorf("rate limit: unexpected script result %v", values)
	}
	return bucketDecision{
		allowed:    values[0] == 1,
		remaining:  values[1],
		retryAfter: time.Duration(values[2]) * time.Millisecond,
	}, nil
}

// rateLimitMiddleware admits requests while the caller's bucket has tokens.
// Requests pass through when the bucket backend fails.
func rateLimitMiddleware(bucket tokenBucket, config RateLimitConfig, logger *zap.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		key := rateKey(config.Prefix, ctx)
		decision, err := bucket.take(ctx.Request.Context(), key)
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
			ctx.Next()
			return
		}
		ctx.Header(headerRateLimit, strconv.Itoa(config.Capacity))
		ctx.Header(headerRateRemaining, strconv.FormatInt(decision.remaining, 10))
		if !decision.allowed {
			retrySeconds := int(math.Ceil(decision.retryAfter.Seconds()))
			ctx.Header(headerRetryAfter, strconv.Itoa(retrySeconds))
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse(errorRateLimited, "rate limit exceeded"))
			return
		}
		ctx.Next()
	}
}

func rateKey(prefix string, ctx *gin.Context) string {
	if claims := getClaims(ctx); claims != nil && claims.GetUserID() != "" {
		return strings.Join([]string{prefix, "holder", claims.GetUserID()}, ":")
	}
	return strings.Join([]string{prefix, "ip", ctx.ClientIP()}, ":")
}
