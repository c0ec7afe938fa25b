package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/krkn12/cred30-sub003/internal/repository"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("workflow reference not found")
	ErrHashMismatch = errors.New("workflow reference request mismatch")
	ErrInProgress   = errors.New("workflow reference in progress")
)

const redisKeyPrefix = "workflow_ref"

// Record is a finalized workflow reference with its stored response.
type Record struct {
	Reference   string
	Kind        string
	RequestHash string
	Response    []byte
	ServedBy    string
}

// Store resolves workflow references, redis-first with the postgres
// workflow_references table as source of truth. The reservation and
// finalization themselves happen inside the workflow's unit of work; this
// store only answers "was this reference already completed".
type Store struct {
	redis redis.Cmdable
	db    *pgxpool.Pool
	ttl   time.Duration
}

func NewStore(redis redis.Cmdable, db *pgxpool.Pool, ttl time.Duration) *Store {
	return &Store{redis: redis, db: db, ttl: ttl}
}

// HashRequest produces the request fingerprint stored alongside a reference
// so a reused reference with different parameters is rejected, not replayed.
func HashRequest(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

type cacheEnvelope struct {
	Reference string `json:"reference"`
	Kind      string `json:"kind"`
	Hash      string `json:"hash"`
	Response  []byte `json:"response"`
}

// Lookup returns the finalized record for a reference, ErrInProgress while a
// concurrent workflow holds it, or ErrNotFound when it was never claimed.
func (s *Store) Lookup(ctx context.Context, reference, requestHash string) (*Record, error) {
	if s.redis != nil {
		val, err := s.redis.Get(ctx, redisKey(reference)).Result()
		if err == nil {
			var env cacheEnvelope
			if json.Unmarshal([]byte(val), &env) == nil {
				if env.Hash != requestHash {
					return nil, ErrHashMismatch
				}
				return &Record{
					Reference:   env.Reference,
					Kind:        env.Kind,
					RequestHash: env.Hash,
					Response:    env.Response,
					ServedBy:    "redis",
				}, nil
			}
		} else if err != redis.Nil {
			zap.L().Warn("redis reference lookup failed", zap.Error(err))
		}
	}

	queries := repository.New(s.db)
	row, err := queries.GetReference(ctx, reference)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup workflow reference: %w", err)
	}

	if row.RequestHash != requestHash {
		return nil, ErrHashMismatch
	}
	if row.InProgress {
		return nil, ErrInProgress
	}

	rec := Record{
		Reference:   row.Reference,
		Kind:        row.Kind,
		RequestHash: row.RequestHash,
		Response:    row.Response,
		ServedBy:    "postgres",
	}
	s.Cache(ctx, rec)
	return &rec, nil
}

// RecordFromRow converts a finalized reference row.
func RecordFromRow(row repository.ReferenceRow) Record {
	return Record{
		Reference:   row.Reference,
		Kind:        row.Kind,
		RequestHash: row.RequestHash,
		Response:    row.Response,
		ServedBy:    "postgres",
	}
}

// Cache stores a finalized record in redis. Failures are logged, never fatal.
func (s *Store) Cache(ctx context.Context, rec Record) {
	if s.redis == nil {
		return
	}
	payload, err := json.Marshal(cacheEnvelope{
		Reference: rec.Reference,
		Kind:      rec.Kind,
		Hash:      rec.RequestHash,
		Response:  rec.Response,
	})
	if err != nil {
		zap.L().Warn("marshal reference cache", zap.Error(err))
		return
	}
	if err := s.redis.Set(ctx, redisKey(rec.Reference), payload, s.ttl).Err(); err != nil {
		zap.L().Warn("redis reference cache set failed", zap.Error(err))
	}
}

// CacheReference is a convenience for workflows whose stored response is just
// the created record id.
func (s *Store) CacheReference(ctx context.Context, reference, requestHash string, recordID uuid.UUID) {
	response, err := json.Marshal(map[string]any{"record_id": recordID})
	if err != nil {
		zap.L().Warn("marshal reference response", zap.Error(err))
		return
	}
	s.Cache(ctx, Record{Reference: reference, RequestHash: requestHash, Response: response})
}

// Forget evicts a released reference from redis so a stale cache entry cannot
// replay a workflow whose reservation was dropped. Failures are logged, never
// fatal.
func (s *Store) Forget(ctx context.Context, reference string) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, redisKey(reference)).Err(); err != nil {
		zap.L().Warn("redis reference cache delete failed", zap.Error(err))
	}
}

func redisKey(reference string) string {
	return fmt.Sprintf("%s:%s", redisKeyPrefix, reference)
}
