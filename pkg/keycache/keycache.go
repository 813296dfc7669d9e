// Package keycache persists JWKS snapshots outside the process so a
// service restarted during an identity-provider outage can keep
// verifying tokens with the last key set it saw.
//
// Both backends implement [jwks.SnapshotCache]:
//
//   - [Redis] keeps one shared snapshot per service under a key with an
//     optional TTL, so replicas warm each other.
//   - [Object] archives the snapshot as a JSON object in an S3 bucket
//     (MinIO), with no expiry.
//
// Snapshots are stored in JWKS form with the x-source and x-fetched-at
// members, so a restored set reports where and when it was fetched.
package keycache

import (
	"context"
	"time"

	sserr "github.com/StricklySoft/bearer-relay/pkg/errors"
	"github.com/StricklySoft/bearer-relay/pkg/jwks"
)

// Backend names accepted by configuration.
const (
	BackendNone  = "none"
	BackendRedis = "redis"
	BackendMinIO = "minio"
)

// DefaultKey is the Redis key or object name used when none is set.
const DefaultKey = "bearer-relay/jwks.json"

const contentType = "application/json"

// KV is the part of the Redis client a [Redis] cache needs.
type KV interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// Objects is the part of the object-store client an [Object] cache needs.
type Objects interface {
	PutObject(ctx context.Context, bucketName, objectName string, data []byte, contentType string) error
	GetObject(ctx context.Context, bucketName, objectName string) ([]byte, error)
}

// Redis stores the snapshot under a single key.
type Redis struct {
	kv  KV
	key string
	ttl time.Duration
}

var _ jwks.SnapshotCache = (*Redis)(nil)

// NewRedis returns a cache writing to key with the given TTL. A zero TTL
// keeps the snapshot until it is overwritten.
func NewRedis(kv KV, key string, ttl time.Duration) *Redis {
	if key == "" {
		key = DefaultKey
	}
	return &Redis{kv: kv, key: key, ttl: ttl}
}

// Save overwrites the stored snapshot.
func (c *Redis) Save(ctx context.Context, set *jwks.KeySet) error {
	data, err := encode(set)
	if err != nil {
		return err
	}
	return c.kv.Set(ctx, c.key, string(data), c.ttl)
}

// Load returns the stored snapshot, or [sserr.CodeNotFound] when the key
// is absent or expired.
func (c *Redis) Load(ctx context.Context) (*jwks.KeySet, error) {
	data, err := c.kv.Get(ctx, c.key)
	if err != nil {
		return nil, err
	}
	return jwks.ParseKeySet([]byte(data))
}

// Object stores the snapshot as one object in a bucket.
type Object struct {
	store  Objects
	bucket string
	name   string
}

var _ jwks.SnapshotCache = (*Object)(nil)

// NewObject returns a cache writing bucket/name. The bucket must exist.
func NewObject(store Objects, bucket, name string) *Object {
	if name == "" {
		name = DefaultKey
	}
	return &Object{store: store, bucket: bucket, name: name}
}

// Save overwrites the archived snapshot.
func (c *Object) Save(ctx context.Context, set *jwks.KeySet) error {
	data, err := encode(set)
	if err != nil {
		return err
	}
	return c.store.PutObject(ctx, c.bucket, c.name, data, contentType)
}

// Load returns the archived snapshot, or [sserr.CodeNotFound] when the
// object or bucket is missing.
func (c *Object) Load(ctx context.Context) (*jwks.KeySet, error) {
	data, err := c.store.GetObject(ctx, c.bucket, c.name)
	if err != nil {
		return nil, err
	}
	return jwks.ParseKeySet(data)
}

func encode(set *jwks.KeySet) ([]byte, error) {
	if set.Len() == 0 {
		return nil, sserr.New(sserr.CodeValidation, "keycache: refusing to save an empty key set")
	}
	data, err := set.MarshalJSON()
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternal, "keycache: failed to encode key set")
	}
	return data, nil
}
