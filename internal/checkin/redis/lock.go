package redis

import (
	"context"
	"fmt"
	"time"

	"ms-checkin/internal/logger"

	"github.com/go-redis/redis/v8"
)

const defaultScanLockTTL = 30 * time.Second

// releaseScript deletes the lock only when it still belongs to the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ScanLocker holds in-flight codes in Redis so that several host processes
// serving the same event share one scan lock.
type ScanLocker struct {
	Client *redis.Client
	TTL    time.Duration
	Logger *logger.Logger
}

func NewScanLocker(client *redis.Client, ttl time.Duration, log *logger.Logger) *ScanLocker {
	if ttl <= 0 {
		log.Warn("REDIS", fmt.Sprintf("Invalid scan lock TTL %s, using %s", ttl, defaultScanLockTTL))
		ttl = defaultScanLockTTL
	}
	return &ScanLocker{Client: client, TTL: ttl, Logger: log}
}

func scanLockKey(eventID, qrCode string) string {
	return fmt.Sprintf("scan_lock:%s:%s", eventID, qrCode)
}

// Acquire takes the lock of a code for owner. False means another request
// holds it.
func (r *ScanLocker) Acquire(ctx context.Context, eventID, qrCode, owner string) (bool, error) {
	ok, err := r.Client.SetNX(ctx, scanLockKey(eventID, qrCode), owner, r.TTL).Result()
	if err != nil {
		r.Logger.Error("REDIS", fmt.Sprintf("Scan lock for %s failed: %v", qrCode, err))
		return false, err
	}
	return ok, nil
}

// Release drops the lock if owner still holds it.
func (r *ScanLocker) Release(ctx context.Context, eventID, qrCode, owner string) error {
	err := releaseScript.Run(ctx, r.Client, []string{scanLockKey(eventID, qrCode)}, owner).Err()
	if err == redis.Nil {
		return nil
	}
	return err
}
