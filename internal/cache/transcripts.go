package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrTranscriptTooLarge = errors.New("transcript exceeds maximum size")
	ErrEmptyChunk         = errors.New("transcript chunk is empty")
)

// appendScript appends a chunk only while the result stays under the size
// cap, refreshing the TTL on every write.
var appendScript = redis.NewScript(`
local key = KEYS[1]
local chunk = ARGV[1]
local max_bytes = tonumber(ARGV[2])
local ttl_ms = ARGV[3]

local current = redis.call("STRLEN", key)
if current + string.len(chunk) > max_bytes then
  return -1
end
local size = redis.call("APPEND", key, chunk)
redis.call("PEXPIRE", key, ttl_ms)
return size
`)

// TranscriptStore accumulates live-session transcript text per practitioner
// and session. Entries expire after ttl of inactivity.
type TranscriptStore struct {
	client   redis.UniversalClient
	prefix   string
	ttl      time.Duration
	maxBytes int64
}

func NewTranscriptStore(client redis.UniversalClient, ttl time.Duration, maxBytes int64) *TranscriptStore {
	return &TranscriptStore{client: client, prefix: "psi:transcript", ttl: ttl, maxBytes: maxBytes}
}

func (s *TranscriptStore) key(accountID, sessionID string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, accountID, sessionID)
}

// Append adds a chunk as a new line and returns the transcript size in bytes.
func (s *TranscriptStore) Append(ctx context.Context, accountID, sessionID, chunk string) (int64, error) {
	chunk = strings.TrimSpace(chunk)
	if chunk == "" {
		return 0, ErrEmptyChunk
	}

	size, err := appendScript.Run(ctx, s.client,
		[]string{s.key(accountID, sessionID)},
		chunk+"\n", s.maxBytes, s.ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to append transcript: %w", err)
	}
	if size < 0 {
		return 0, ErrTranscriptTooLarge
	}
	return size, nil
}

// Get returns the accumulated transcript, or "" when none exists.
func (s *TranscriptStore) Get(ctx context.Context, accountID, sessionID string) (string, error) {
	text, err := s.client.Get(ctx, s.key(accountID, sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read transcript: %w", err)
	}
	return text, nil
}

func (s *TranscriptStore) Clear(ctx context.Context, accountID, sessionID string) error {
	if err := s.client.Del(ctx, s.key(accountID, sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to clear transcript: %w", err)
	}
	return nil
}
