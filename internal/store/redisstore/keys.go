package redisstore

// Key layout. Session-scoped keys embed the session ID in a hash tag so a
// Redis Cluster keeps one session's records on a single slot.

func (s *RedisStore) sessionKey(sessionID string) string {
	return s.prefix + "session:{" + sessionID + "}"
}

func (s *RedisStore) sessionIndexKey() string {
	return s.prefix + "sessions"
}

func (s *RedisStore) stageKey(sessionID, stageID string) string {
	return s.prefix + "stage:{" + sessionID + "}:" + stageID
}

func (s *RedisStore) stagePattern(sessionID string) string {
	return s.prefix + "stage:{" + sessionID + "}:*"
}

func (s *RedisStore) qualityKey(sessionID string) string {
	return s.prefix + "quality:{" + sessionID + "}"
}

func (s *RedisStore) slaKey(sessionID string) string {
	return s.prefix + "sla:{" + sessionID + "}"
}

func (s *RedisStore) escalationKey(sessionID string) string {
	return s.prefix + "escalation:{" + sessionID + "}"
}

func (s *RedisStore) escalationOrderKey(sessionID string) string {
	return s.prefix + "escalation-order:{" + sessionID + "}"
}

func (s *RedisStore) recoveryKey(sessionID string) string {
	return s.prefix + "recovery:{" + sessionID + "}"
}

func (s *RedisStore) eventStreamKey(sessionID string) string {
	return s.prefix + "events:{" + sessionID + "}"
}
