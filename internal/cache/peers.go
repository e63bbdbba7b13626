package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrInvalidPeer = errors.New("room, participant and peer id are required")

// PeerStore maps a video-session room to the WebRTC peer ids of its
// participants so each side can find the other.
type PeerStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewPeerStore(client redis.UniversalClient, ttl time.Duration) *PeerStore {
	return &PeerStore{client: client, prefix: "psi:peer", ttl: ttl}
}

func (s *PeerStore) key(room string) string {
	return s.prefix + ":" + room
}

func (s *PeerStore) Register(ctx context.Context, room, participant, peerID string) error {
	room, participant, peerID = strings.TrimSpace(room), strings.TrimSpace(participant), strings.TrimSpace(peerID)
	if room == "" || participant == "" || peerID == "" {
		return ErrInvalidPeer
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key(room), participant, peerID)
	pipe.PExpire(ctx, s.key(room), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to register peer: %w", err)
	}
	return nil
}

// Lookup returns participant -> peer id for room; empty when unknown.
func (s *PeerStore) Lookup(ctx context.Context, room string) (map[string]string, error) {
	peers, err := s.client.HGetAll(ctx, s.key(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read peers: %w", err)
	}
	return peers, nil
}
