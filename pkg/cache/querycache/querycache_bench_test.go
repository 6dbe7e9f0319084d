package querycache

import (
	"fmt"
	"testing"

	"github.com/developer-mesh/memory-engine/pkg/models"
)

func benchEpisodes(n int) []*models.Episode {
	episodes := make([]*models.Episode, n)
	for i := range episodes {
		episodes[i] = models.NewEpisode(
			fmt.Sprintf("episode %d", i),
			models.TaskContext{Domain: "bench"},
			models.TaskTypeTesting,
		)
	}
	return episodes
}

func BenchmarkFingerprint(b *testing.B) {
	key := Key{
		QueryText: "implement REST endpoint with middleware",
		Domain:    "web-api",
		Tags:      []string{"auth", "jwt", "middleware"},
		Limit:     25,
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = key.Fingerprint()
	}
}

func BenchmarkGetHit(b *testing.B) {
	c, err := New(DefaultConfig(), nil)
	if err != nil {
		b.Fatal(err)
	}
	key := Key{QueryText: "hot query", Domain: "bench", Limit: 10}
	c.PutEpisodes(key, benchEpisodes(10))

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, ok := c.GetEpisodes(key); !ok {
			b.Fatal("expected hit")
		}
	}
}

func BenchmarkGetMiss(b *testing.B) {
	c, err := New(DefaultConfig(), nil)
	if err != nil {
		b.Fatal(err)
	}
	key := Key{QueryText: "never cached"}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, ok := c.GetEpisodes(key); ok {
			b.Fatal("expected miss")
		}
	}
}

func BenchmarkInvalidateDomain(b *testing.B) {
	c, err := New(Config{MaxEntries: 4096, TTL: DefaultTTL}, nil)
	if err != nil {
		b.Fatal(err)
	}
	for i := 0; i < 1000; i++ {
		c.PutEpisodes(Key{
			QueryText: fmt.Sprintf("query %d", i),
			Domain:    fmt.Sprintf("domain-%d", i%10),
		}, benchEpisodes(1))
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.InvalidateDomain(fmt.Sprintf("domain-%d", i%10))
	}
}
