package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"repopulse/pkg/timerange"
)

func benchEntry(b *testing.B, i int) Entry {
	b.Helper()

	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i*90)
	r, err := timerange.New(start, start.AddDate(0, 0, 90))
	if err != nil {
		b.Fatal(err)
	}
	entry, err := New(fmt.Sprintf("acme/repo-%d", i%16), DataTypePullRequests, r,
		json.RawMessage(`[{"id":"1"},{"id":"2"}]`), time.Hour)
	if err != nil {
		b.Fatal(err)
	}
	return entry
}

// 内存存储写入操作的基准测试
// 测试目的：测量缓存写入热路径的性能
func BenchmarkMemoryStore_Set(b *testing.B) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	entries := make([]Entry, b.N)
	for i := range entries {
		entries[i] = benchEntry(b, i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := store.Set(ctx, entries[i]); err != nil {
			b.Fatal(err)
		}
	}
}

// 内存存储读取操作的基准测试
// 测试目的：测量缓存命中热路径的性能，包括访问时间刷新
func BenchmarkMemoryStore_Get(b *testing.B) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	const count = 1000
	keys := make([]string, count)
	for i := 0; i < count; i++ {
		entry := benchEntry(b, i)
		if err := store.Set(ctx, entry); err != nil {
			b.Fatal(err)
		}
		keys[i] = entry.Key
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := store.Get(ctx, keys[i%count]); err != nil {
			b.Fatal(err)
		}
	}
}

// 淘汰候选计算的基准测试
// 测试目的：测量压力触发时对全量条目排序打分的开销
func BenchmarkPolicy_CandidatesForSizeTarget(b *testing.B) {
	policy := NewPolicy(DefaultEvictionConfig())

	const count = 1000
	entries := make([]Entry, count)
	for i := 0; i < count; i++ {
		entries[i] = benchEntry(b, i)
	}

	var total int64
	for _, entry := range entries {
		total += entry.SizeBytes
	}
	target := total / 2

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		policy.CandidatesForSizeTarget(entries, target)
	}
}

// 条目序列化往返的基准测试
// 测试目的：测量持久化存储读写路径上的编解码开销
func BenchmarkEntry_SerializeRoundTrip(b *testing.B) {
	entry := benchEntry(b, 0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		raw, err := entry.Serialize()
		if err != nil {
			b.Fatal(err)
		}
		if _, err := Deserialize(raw); err != nil {
			b.Fatal(err)
		}
	}
}
