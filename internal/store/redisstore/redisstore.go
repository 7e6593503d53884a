// Package redisstore implements the stage registry Store interface backed by
// Redis/Valkey, for deployments that need the registry to survive restarts.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/gangplank-systems/gangplank/internal/store"
	"github.com/gangplank-systems/gangplank/pkg/types"
)

const (
	defaultPrefix       = "gangplank:"
	defaultRetentionTTL = 30 * 24 * time.Hour
	eventStreamMax      = 1000
	defaultSessionScan  = 200
)

// RedisStore implements store.Store backed by Redis/Valkey. All keys for one
// session share the session's hash tag so cluster deployments keep a session
// on one slot.
type RedisStore struct {
	client       *goredis.Client
	prefix       string
	retentionTTL time.Duration
}

// New creates a RedisStore from configuration.
func New(cfg *types.RedisConfig) *RedisStore {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	s := &RedisStore{client: client, prefix: cfg.KeyPrefix, retentionTTL: defaultRetentionTTL}
	if s.prefix == "" {
		s.prefix = defaultPrefix
	}
	if cfg.RetentionTTL != "" {
		if d, err := time.ParseDuration(cfg.RetentionTTL); err == nil && d > 0 {
			s.retentionTTL = d
		}
	}
	return s
}

// NewFromClient creates a RedisStore from an existing client (useful for testing).
func NewFromClient(client *goredis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisStore{client: client, prefix: prefix, retentionTTL: defaultRetentionTTL}
}

// Start initializes the connection.
func (s *RedisStore) Start(ctx context.Context) error { return s.Ping(ctx) }

// Stop closes the connection.
func (s *RedisStore) Stop(_ context.Context) error { return s.client.Close() }

// Ping checks connectivity to the Redis server.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (s *RedisStore) setJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	return s.client.Set(ctx, key, data, s.retentionTTL).Err()
}

func (s *RedisStore) getJSON(ctx context.Context, key string, v interface{}) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", key, err)
	}
	return json.Unmarshal(data, v)
}

// PutSession stores a session record and indexes it by start time.
func (s *RedisStore) PutSession(ctx context.Context, sess types.Session) error {
	if err := s.setJSON(ctx, s.sessionKey(sess.SessionID), sess); err != nil {
		return err
	}
	return s.client.ZAdd(ctx, s.sessionIndexKey(), goredis.Z{
		Score:  float64(sess.StartedAt.UnixNano()),
		Member: sess.SessionID,
	}).Err()
}

// GetSession returns a session by ID.
func (s *RedisStore) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	var sess types.Session
	if err := s.getJSON(ctx, s.sessionKey(sessionID), &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// ListSessions returns up to limit sessions, most recently started first.
func (s *RedisStore) ListSessions(ctx context.Context, limit int) ([]types.Session, error) {
	if limit <= 0 {
		limit = defaultSessionScan
	}
	ids, err := s.client.ZRevRange(ctx, s.sessionIndexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	out := make([]types.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.GetSession(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue // expired record, index entry is stale
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, nil
}

// PutStage stores a stage record.
func (s *RedisStore) PutStage(ctx context.Context, st types.Stage) error {
	return s.setJSON(ctx, s.stageKey(st.SessionID, st.StageID), st)
}

// GetStage returns one stage record.
func (s *RedisStore) GetStage(ctx context.Context, sessionID, stageID string) (*types.Stage, error) {
	var st types.Stage
	if err := s.getJSON(ctx, s.stageKey(sessionID, stageID), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// ListStages returns all stage records for a session.
func (s *RedisStore) ListStages(ctx context.Context, sessionID string) ([]types.Stage, error) {
	keys, err := s.scanKeys(ctx, s.stagePattern(sessionID))
	if err != nil {
		return nil, err
	}
	out := make([]types.Stage, 0, len(keys))
	for _, key := range keys {
		var st types.Stage
		if err := s.getJSON(ctx, key, &st); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// AppendQualityResult appends a gate evaluation to the session's history list.
func (s *RedisStore) AppendQualityResult(ctx context.Context, r types.QualityGateResult) error {
	return s.appendList(ctx, s.qualityKey(r.SessionID), r)
}

// ListQualityResults returns the gate evaluation history in append order.
func (s *RedisStore) ListQualityResults(ctx context.Context, sessionID string) ([]types.QualityGateResult, error) {
	items, err := s.client.LRange(ctx, s.qualityKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing quality results: %w", err)
	}
	out := make([]types.QualityGateResult, 0, len(items))
	for _, item := range items {
		var r types.QualityGateResult
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, fmt.Errorf("decoding quality result: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// PutSLAResult stores the latest SLA snapshot for a stage.
func (s *RedisStore) PutSLAResult(ctx context.Context, r types.SLAResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling sla result: %w", err)
	}
	key := s.slaKey(r.SessionID)
	if err := s.client.HSet(ctx, key, r.StageID, data).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, key, s.retentionTTL).Err()
}

// ListSLAResults returns the latest SLA snapshot per stage.
func (s *RedisStore) ListSLAResults(ctx context.Context, sessionID string) ([]types.SLAResult, error) {
	fields, err := s.client.HGetAll(ctx, s.slaKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing sla results: %w", err)
	}
	out := make([]types.SLAResult, 0, len(fields))
	for _, raw := range fields {
		var r types.SLAResult
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("decoding sla result: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// PutEscalation stores or replaces an escalation event, keeping fire order in
// a side list on first write.
func (s *RedisStore) PutEscalation(ctx context.Context, e types.EscalationEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling escalation: %w", err)
	}
	key := s.escalationKey(e.SessionID)
	existed, err := s.client.HExists(ctx, key, e.EventID).Result()
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, key, e.EventID, data).Err(); err != nil {
		return err
	}
	if !existed {
		if err := s.client.RPush(ctx, s.escalationOrderKey(e.SessionID), e.EventID).Err(); err != nil {
			return err
		}
	}
	if err := s.client.Expire(ctx, key, s.retentionTTL).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, s.escalationOrderKey(e.SessionID), s.retentionTTL).Err()
}

// GetEscalation returns one escalation event.
func (s *RedisStore) GetEscalation(ctx context.Context, sessionID, eventID string) (*types.EscalationEvent, error) {
	raw, err := s.client.HGet(ctx, s.escalationKey(sessionID), eventID).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading escalation: %w", err)
	}
	var e types.EscalationEvent
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("decoding escalation: %w", err)
	}
	return &e, nil
}

// ListEscalations returns escalation events in fire order.
func (s *RedisStore) ListEscalations(ctx context.Context, sessionID string) ([]types.EscalationEvent, error) {
	ids, err := s.client.LRange(ctx, s.escalationOrderKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing escalations: %w", err)
	}
	out := make([]types.EscalationEvent, 0, len(ids))
	for _, id := range ids {
		e, err := s.GetEscalation(ctx, sessionID, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, nil
}

// AppendRecoveryAttempt appends to the session's ordered recovery ledger.
func (s *RedisStore) AppendRecoveryAttempt(ctx context.Context, a types.RecoveryAttempt) error {
	return s.appendList(ctx, s.recoveryKey(a.SessionID), a)
}

// ListRecoveryAttempts returns the recovery ledger in append order.
func (s *RedisStore) ListRecoveryAttempts(ctx context.Context, sessionID string) ([]types.RecoveryAttempt, error) {
	items, err := s.client.LRange(ctx, s.recoveryKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing recovery attempts: %w", err)
	}
	out := make([]types.RecoveryAttempt, 0, len(items))
	for _, item := range items {
		var a types.RecoveryAttempt
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			return nil, fmt.Errorf("decoding recovery attempt: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}

// AppendEvent appends to the session's audit stream.
func (s *RedisStore) AppendEvent(ctx context.Context, e types.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	return s.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: s.eventStreamKey(e.SessionID),
		MaxLen: eventStreamMax,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}).Err()
}

// ListEvents returns up to limit audit events, oldest first.
func (s *RedisStore) ListEvents(ctx context.Context, sessionID string, limit int) ([]types.Event, error) {
	count := int64(limit)
	if count <= 0 {
		count = eventStreamMax
	}
	msgs, err := s.client.XRangeN(ctx, s.eventStreamKey(sessionID), "-", "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	out := make([]types.Event, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var e types.Event
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decoding event: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *RedisStore) appendList(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	if err := s.client.RPush(ctx, key, data).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, key, s.retentionTTL).Err()
}

func (s *RedisStore) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", pattern, err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}
