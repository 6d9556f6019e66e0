package bucketing

import (
	"hash"
	"sync"
	"time"

	"formauth-service/internal/config"

	"github.com/spaolacci/murmur3"
)

// BucketingManager maps logins and event identifiers onto a fixed set
// of buckets so Scylla partitions and ClickHouse shards stay bounded.
type BucketingManager struct {
	loginBuckets int
	eventBuckets int
	hasherPool   sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	bm := &BucketingManager{
		loginBuckets: cfg.Bucketing.UserBuckets,
		eventBuckets: cfg.Bucketing.EventBuckets,
	}

	// Pool of hash functions to avoid allocation overhead
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// GetLoginBucket returns the consistent partition bucket for a login
// (0 to loginBuckets-1).
func (bm *BucketingManager) GetLoginBucket(login string) int {
	return bm.getBucket(login, bm.loginBuckets)
}

// GetEventBucket returns the bucket for event rows.
func (bm *BucketingManager) GetEventBucket(identifier string) int {
	return bm.getBucket(identifier, bm.eventBuckets)
}

// GetDateBucket returns the UTC date partition for analytics rows.
func (bm *BucketingManager) GetDateBucket() string {
	return time.Now().UTC().Format("2006-01-02")
}

// GetTimeBucket returns the start of the current window, in Unix
// seconds, for windowed counters.
func (bm *BucketingManager) GetTimeBucket(windowSeconds int) int64 {
	return time.Now().Unix() / int64(windowSeconds) * int64(windowSeconds)
}

func (bm *BucketingManager) GetLoginBuckets() int {
	return bm.loginBuckets
}

func (bm *BucketingManager) GetEventBuckets() int {
	return bm.eventBuckets
}

func (bm *BucketingManager) getBucket(key string, numBuckets int) int {
	if numBuckets <= 0 {
		return 0
	}
	return int(bm.getHash(key) % uint64(numBuckets))
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
