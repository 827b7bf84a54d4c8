package exchange

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/l7mp/ddflow/pkg/progress"
)

// AllReduce broadcasts a local value on channel at time t, waits for the values of all peers and
// folds them with combine in sender order. Every worker obtains the same result provided combine
// is commutative and associative.
func AllReduce[T any](ctx context.Context, e *Endpoint, channel string, t progress.Time, local T, combine func(T, T) T) (T, error) {
	var zero T

	e.Broadcast(Message{Kind: KindProgress, Channel: channel, Time: t, Payload: local})

	msgs, err := e.Gather(ctx, channel, t)
	if err != nil {
		return zero, err
	}
	if len(msgs) != e.Peers() {
		return zero, fmt.Errorf("all-reduce on %s at %s: expected %d reports, got %d",
			channel, t, e.Peers(), len(msgs))
	}

	ret, ok := msgs[0].Payload.(T)
	if !ok {
		return zero, fmt.Errorf("all-reduce on %s: unexpected payload %T", channel, msgs[0].Payload)
	}
	for _, m := range msgs[1:] {
		v, ok := m.Payload.(T)
		if !ok {
			return zero, fmt.Errorf("all-reduce on %s: unexpected payload %T", channel, m.Payload)
		}
		ret = combine(ret, v)
	}

	return ret, nil
}

// Hash returns a stable 64-bit hash of a key. Integer and string keys are hashed from their
// binary form, other keys from their printed form.
func Hash[K comparable](key K) uint64 {
	var buf [8]byte
	switch k := any(key).(type) {
	case string:
		return xxhash.Sum64String(k)
	case uint32:
		binary.LittleEndian.PutUint32(buf[:4], k)
		return xxhash.Sum64(buf[:4])
	case int32:
		binary.LittleEndian.PutUint32(buf[:4], uint32(k))
		return xxhash.Sum64(buf[:4])
	case uint64:
		binary.LittleEndian.PutUint64(buf[:], k)
		return xxhash.Sum64(buf[:])
	case int64:
		binary.LittleEndian.PutUint64(buf[:], uint64(k))
		return xxhash.Sum64(buf[:])
	case int:
		binary.LittleEndian.PutUint64(buf[:], uint64(k))
		return xxhash.Sum64(buf[:])
	case uint:
		binary.LittleEndian.PutUint64(buf[:], uint64(k))
		return xxhash.Sum64(buf[:])
	default:
		return xxhash.Sum64String(fmt.Sprintf("%#v", key))
	}
}

// Partition returns the worker owning a key.
func Partition[K comparable](key K, peers int) int {
	if peers <= 1 {
		return 0
	}
	return int(Hash(key) % uint64(peers))
}
