package service

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/opencampus/course-reg-api/pkg/cache"
)

// CacheService maintains the read-side caches for seat snapshots and waitlist
// positions. All operations are best effort: a cache failure degrades to a
// database read, never to a request failure.
type CacheService struct {
	client      *redis.Client
	seatTTL     time.Duration
	positionTTL time.Duration
	logger      *zap.Logger
}

// NewCacheService wraps a Redis client. client may be nil, in which case every
// lookup misses.
func NewCacheService(client *redis.Client, seatTTL, positionTTL time.Duration, logger *zap.Logger) *CacheService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{client: client, seatTTL: seatTTL, positionTTL: positionTTL, logger: logger}
}

// SeatSnapshot returns the cached remaining-seat count for an offering.
func (s *CacheService) SeatSnapshot(ctx context.Context, offeringID string) (int, bool) {
	if s.client == nil {
		return 0, false
	}
	raw, err := s.client.Get(ctx, cache.SeatSnapshotKey(offeringID)).Result()
	if err != nil {
		return 0, false
	}
	seats, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return seats, true
}

// StoreSeatSnapshot caches the remaining-seat count for an offering.
func (s *CacheService) StoreSeatSnapshot(ctx context.Context, offeringID string, seats int) {
	if s.client == nil {
		return
	}
	if err := s.client.Set(ctx, cache.SeatSnapshotKey(offeringID), strconv.Itoa(seats), s.seatTTL).Err(); err != nil {
		s.logger.Debug("seat snapshot cache write failed", zap.String("offering_id", offeringID), zap.Error(err))
	}
}

// WaitlistPosition returns the cached queue position for a student.
func (s *CacheService) WaitlistPosition(ctx context.Context, offeringID, studentID string) (int, bool) {
	if s.client == nil {
		return 0, false
	}
	raw, err := s.client.Get(ctx, cache.WaitlistPositionKey(offeringID, studentID)).Result()
	if err != nil {
		return 0, false
	}
	position, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return position, true
}

// StoreWaitlistPosition caches a student's queue position.
func (s *CacheService) StoreWaitlistPosition(ctx context.Context, offeringID, studentID string, position int) {
	if s.client == nil {
		return
	}
	if err := s.client.Set(ctx, cache.WaitlistPositionKey(offeringID, studentID), strconv.Itoa(position), s.positionTTL).Err(); err != nil {
		s.logger.Debug("waitlist position cache write failed", zap.String("offering_id", offeringID), zap.Error(err))
	}
}

// InvalidateOffering drops every cached value touched by a decision on the
// offering: its seat snapshot and the positions of the affected students.
func (s *CacheService) InvalidateOffering(ctx context.Context, offeringID string, studentIDs ...string) {
	if s.client == nil {
		return
	}
	keys := []string{cache.SeatSnapshotKey(offeringID)}
	for _, studentID := range studentIDs {
		keys = append(keys, cache.WaitlistPositionKey(offeringID, studentID))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		s.logger.Debug("cache invalidation failed", zap.String("offering_id", offeringID), zap.Error(err))
	}
}
