package snkv

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestTTLProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	db := openTest(t)

	properties.Property("a future expiry keeps the key readable", prop.ForAll(
		func(key, value []byte, minutes int) bool {
			if err := db.PutWithTTL(key, value, time.Duration(minutes)*time.Minute); err != nil {
				return false
			}
			ttl, err := db.TTL(key)
			if err != nil || ttl <= 0 || ttl > time.Duration(minutes)*time.Minute {
				return false
			}
			_, err = db.Get(key)
			return err == nil
		},
		gen.SliceOf(gen.UInt8()),
		gen.SliceOf(gen.UInt8()),
		gen.IntRange(1, 1000),
	))

	properties.Property("a past expiry hides the key", prop.ForAll(
		func(key, value []byte, minutes int) bool {
			if err := db.PutWithExpiry(key, value, time.Now().Add(-time.Duration(minutes)*time.Minute)); err != nil {
				return false
			}
			if _, err := db.Get(key); err != ErrNotFound {
				return false
			}
			ok, err := db.Exists(key)
			return err == nil && !ok
		},
		gen.SliceOf(gen.UInt8()),
		gen.SliceOf(gen.UInt8()),
		gen.IntRange(1, 1000),
	))

	properties.Property("persist removes any expiry", prop.ForAll(
		func(key []byte, minutes int) bool {
			if err := db.PutWithTTL(key, []byte("v"), time.Duration(minutes)*time.Minute); err != nil {
				return false
			}
			if ok, err := db.Persist(key); err != nil || !ok {
				return false
			}
			ttl, err := db.TTL(key)
			return err == nil && ttl == NoTTL
		},
		gen.SliceOf(gen.UInt8()),
		gen.IntRange(1, 1000),
	))

	properties.TestingRun(t)

	if err := db.IntegrityCheck(); err != nil {
		t.Fatalf("integrity: %v", err)
	}
}

func TestPurgeProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("purge removes exactly the expired keys", prop.ForAll(
		func(expired, live []string) bool {
			db := openTest(t)
			past := time.Now().Add(-time.Second)
			want := map[string]bool{}
			for _, k := range expired {
				if err := db.PutWithExpiry([]byte("x"+k), nil, past); err != nil {
					return false
				}
				want["x"+k] = true
			}
			for _, k := range live {
				if err := db.PutWithTTL([]byte("l"+k), nil, time.Hour); err != nil {
					return false
				}
			}
			n, err := db.PurgeExpired()
			if err != nil || n != len(want) {
				return false
			}
			left := map[string]bool{}
			for _, k := range live {
				left["l"+k] = true
			}
			count, err := db.Count()
			return err == nil && count == len(left)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
