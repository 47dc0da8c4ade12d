package cache

import (
	"fmt"
	"strconv"
	"time"
)

const (
	// OnlineUsersTTL matches the hub's pong timeout: a user whose key is
	// not refreshed by a pong for this long drops out of the mirror on
	// its own.
	OnlineUsersTTL = 90 * time.Second
)

// PresenceCache mirrors the hub's presence registry into Redis, so other
// processes can answer "is this user online" without holding the socket.
// Nil-safe: a nil receiver (redis unavailable) is a no-op.
type PresenceCache struct {
	redis *RedisCache
}

func NewPresenceCache(redis *RedisCache) *PresenceCache {
	return &PresenceCache{redis: redis}
}

// SetUserOnline adds a user to the online set
func (pc *PresenceCache) SetUserOnline(userID uint) error {
	if pc == nil || pc.redis == nil {
		return nil
	}
	if err := pc.redis.SetAdd("online:users", userID); err != nil {
		return err
	}
	return pc.redis.Set(onlineKey(userID), []byte("1"), OnlineUsersTTL)
}

// SetUserOffline removes a user from the online set
func (pc *PresenceCache) SetUserOffline(userID uint) error {
	if pc == nil || pc.redis == nil {
		return nil
	}
	if err := pc.redis.SetRemove("online:users", userID); err != nil {
		return err
	}
	return pc.redis.Delete(onlineKey(userID))
}

// RefreshUserOnline extends the TTL; called on every pong.
func (pc *PresenceCache) RefreshUserOnline(userID uint) error {
	if pc == nil || pc.redis == nil {
		return nil
	}
	return pc.redis.Set(onlineKey(userID), []byte("1"), OnlineUsersTTL)
}

// IsUserOnline checks the mirrored presence state
func (pc *PresenceCache) IsUserOnline(userID uint) bool {
	if pc == nil || pc.redis == nil {
		return false
	}
	return pc.redis.Exists(onlineKey(userID))
}

// GetOnlineUsers returns all mirrored online user IDs
func (pc *PresenceCache) GetOnlineUsers() ([]uint, error) {
	if pc == nil || pc.redis == nil {
		return nil, nil
	}
	members, err := pc.redis.SetMembers("online:users")
	if err != nil {
		return nil, err
	}
	userIDs := make([]uint, 0, len(members))
	for _, member := range members {
		if id, err := strconv.ParseUint(member, 10, 32); err == nil {
			userIDs = append(userIDs, uint(id))
		}
	}
	return userIDs, nil
}

func onlineKey(userID uint) string {
	return fmt.Sprintf("online:%d", userID)
}
