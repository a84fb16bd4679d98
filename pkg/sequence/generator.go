package sequence

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"ticketing-settlement/pkg/rediskey"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("sequence",
	fx.Provide(NewRedisGenerator),
)

const (
	PayoutPrefix  = "PAY"
	AdvancePrefix = "ADV"
)

// Generator issues human-readable, unique record numbers.
type Generator interface {
	NextPayoutNumber(ctx context.Context) (string, error)
	NextAdvanceNumber(ctx context.Context) (string, error)
}

type RedisGenerator struct {
	rdb      *redis.Client
	fallback Generator
}

type Params struct {
	fx.In

	Redis *redis.Client
	Node  *snowflake.Node
}

// NewRedisGenerator uses daily redis counters and falls back to snowflake
// numbers when redis is unreachable.
func NewRedisGenerator(p Params) Generator {
	return &RedisGenerator{
		rdb:      p.Redis,
		fallback: NewLocalGenerator(p.Node),
	}
}

func (g *RedisGenerator) NextPayoutNumber(ctx context.Context) (string, error) {
	return g.nextDailyCode(ctx, PayoutPrefix)
}

func (g *RedisGenerator) NextAdvanceNumber(ctx context.Context) (string, error) {
	return g.nextDailyCode(ctx, AdvancePrefix)
}

func (g *RedisGenerator) nextDailyCode(ctx context.Context, prefix string) (string, error) {
	now := time.Now().UTC()
	today := now.Format("060102")
	key := rediskey.BuildDailySequenceKey(prefix, today)

	seq, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		zap.L().Warn("sequence counter unavailable, using snowflake fallback", zap.String("prefix", prefix), zap.Error(err))
		if prefix == AdvancePrefix {
			return g.fallback.NextAdvanceNumber(ctx)
		}
		return g.fallback.NextPayoutNumber(ctx)
	}

	if seq == 1 {
		expire := time.Until(now.Truncate(24 * time.Hour).Add(48 * time.Hour))
		_ = g.rdb.Expire(ctx, key, expire).Err()
	}

	randSuffix, err := randomAlphaNumeric(2)
	if err != nil {
		return "", err
	}

	return FormatDailyCode(prefix, today, seq, randSuffix), nil
}

// FormatDailyCode renders PREFIX-YYMMDD-SEQ36SUFFIX, the sequence in
// upper-case base36 padded to three characters.
func FormatDailyCode(prefix, day string, seq int64, suffix string) string {
	encoded := strings.ToUpper(strconv.FormatInt(seq, 36))
	if len(encoded) < 3 {
		encoded = strings.Repeat("0", 3-len(encoded)) + encoded
	}
	return fmt.Sprintf("%s-%s-%s%s", prefix, day, encoded, suffix)
}

type LocalGenerator struct {
	node *snowflake.Node
}

// NewLocalGenerator issues numbers from a snowflake node. Used in tests and
// as the redis fallback.
func NewLocalGenerator(node *snowflake.Node) *LocalGenerator {
	return &LocalGenerator{node: node}
}

func (g *LocalGenerator) NextPayoutNumber(ctx context.Context) (string, error) {
	return g.next(PayoutPrefix), nil
}

func (g *LocalGenerator) NextAdvanceNumber(ctx context.Context) (string, error) {
	return g.next(AdvancePrefix), nil
}

func (g *LocalGenerator) next(prefix string) string {
	return fmt.Sprintf("%s-%s-%s", prefix, time.Now().UTC().Format("060102"), strings.ToUpper(g.node.Generate().Base36()))
}

func randomAlphaNumeric(n int) (string, error) {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	b := make([]byte, n)
	for i := range b {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		b[i] = chars[num.Int64()]
	}
	return string(b), nil
}
