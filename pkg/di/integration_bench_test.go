package di

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/querycache"
)

func seededTable(n int) *userTable {
	users := make([]User, n)
	for i := range users {
		users[i] = User{
			ID:    fmt.Sprintf("user-%d", i),
			Name:  fmt.Sprintf("User %d", i),
			Email: fmt.Sprintf("user%d@example.com", i),
		}
	}
	return newUserTable(users...)
}

func TestConcurrentAccess(t *testing.T) {
	container, err := NewContainerWithDefaults()
	if err != nil {
		t.Fatalf("NewContainerWithDefaults() failed: %v", err)
	}
	base := seededTable(100)
	repo := newUserRepository(t, container, base)
	ctx := context.Background()

	const workers = 50
	const reads = 20

	var wg sync.WaitGroup
	errs := make(chan error, workers*reads)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < reads; j++ {
				id := fmt.Sprintf("user-%d", (worker*reads+j)%100)
				user, err := repo.GetByID(ctx, id)
				if err != nil {
					errs <- fmt.Errorf("worker %d: GetByID(%s): %w", worker, id, err)
					continue
				}
				if user.ID != id {
					errs <- fmt.Errorf("worker %d: expected %s, got %s", worker, id, user.ID)
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}

	// Concurrent misses on one key may each reach the base repository, but
	// every key is stored once all workers are done.
	if calls := base.count("GetByID"); calls < 100 || calls > workers*reads {
		t.Errorf("Unexpected base GetByID calls: %d", calls)
	}
	for i := 0; i < 100; i++ {
		if !storeHas(t, container, cache.DefaultBackend, fmt.Sprintf("User::getById-user-%d", i)) {
			t.Errorf("Expected user-%d to be cached", i)
		}
	}
}

func TestConcurrentReadWrite(t *testing.T) {
	container, err := NewContainerWithDefaults()
	if err != nil {
		t.Fatalf("NewContainerWithDefaults() failed: %v", err)
	}
	base := seededTable(10)
	repo := newUserRepository(t, container, base)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(2)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = repo.GetByID(ctx, fmt.Sprintf("user-%d", j%10))
				_, _, _ = repo.List(ctx)
			}
		}(w)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				id := fmt.Sprintf("user-%d", (worker+j)%10)
				_, _ = repo.Update(ctx, User{ID: id, Name: fmt.Sprintf("writer %d", worker), Email: id + "@example.com"})
			}
		}(w)
	}
	wg.Wait()

	// Once writers are done a read must observe the last committed value.
	if _, err := repo.Update(ctx, User{ID: "user-3", Name: "final"}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	got, err := repo.GetByID(ctx, "user-3")
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	if got.Name != "final" {
		t.Errorf("Expected the last update to be visible, got %q", got.Name)
	}
}

func TestConcurrentRememberSharesCompute(t *testing.T) {
	container, err := NewContainerWithDefaults()
	if err != nil {
		t.Fatalf("NewContainerWithDefaults() failed: %v", err)
	}
	if err := container.Registry().Register("Report", cache.EntitySettings{}); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	var mu sync.Mutex
	computed := 0
	release := make(chan struct{})
	compute := func(context.Context) (int, error) {
		<-release
		mu.Lock()
		computed++
		mu.Unlock()
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make(chan int, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := querycache.Remember(context.Background(), container.Engine(), "Report", cache.Key("total"), 0, compute)
			if err != nil {
				t.Errorf("Remember() failed: %v", err)
				return
			}
			results <- v
		}()
	}
	close(release)
	wg.Wait()
	close(results)

	for v := range results {
		if v != 42 {
			t.Errorf("Expected 42, got %d", v)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if computed < 1 || computed > 20 {
		t.Errorf("Unexpected compute count %d", computed)
	}
}

func BenchmarkCachedVsBaseRepository(b *testing.B) {
	ctx := context.Background()

	b.Run("Base", func(b *testing.B) {
		base := seededTable(100)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_, _ = base.GetByID(ctx, fmt.Sprintf("user-%d", i%100))
		}
	})

	b.Run("Cached", func(b *testing.B) {
		container, err := NewContainerWithDefaults()
		if err != nil {
			b.Fatalf("NewContainerWithDefaults() failed: %v", err)
		}
		repo, err := NewCachedRepository[User](container, seededTable(100))
		if err != nil {
			b.Fatalf("NewCachedRepository() failed: %v", err)
		}
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_, _ = repo.GetByID(ctx, fmt.Sprintf("user-%d", i%100))
		}
	})

	b.Run("CachedUnitOfWork", func(b *testing.B) {
		container, err := NewContainerWithDefaults()
		if err != nil {
			b.Fatalf("NewContainerWithDefaults() failed: %v", err)
		}
		repo, err := NewCachedRepository[User](container, seededTable(100))
		if err != nil {
			b.Fatalf("NewCachedRepository() failed: %v", err)
		}
		behavior := container.NewBehavior()
		defer behavior.Close()
		uow := querycache.ContextWithBehavior(ctx, behavior)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_, _ = repo.GetByID(uow, fmt.Sprintf("user-%d", i%100))
		}
	})
}

func BenchmarkKeyBuilding(b *testing.B) {
	container, err := NewContainerWithDefaults()
	if err != nil {
		b.Fatalf("NewContainerWithDefaults() failed: %v", err)
	}
	if err := container.Registry().Register("User", cache.EntitySettings{}); err != nil {
		b.Fatalf("Register() failed: %v", err)
	}
	keys := container.Engine().KeyBuilder()

	inputs := map[string]cache.KeyInput{
		"Scalar": cache.Key("getById", 42),
		"Multi":  cache.Key("getList", "active", 2, true),
		"Map":    cache.Key("search", map[string]any{"status": "active", "tags": []string{"a", "b"}}),
	}
	for name, input := range inputs {
		b.Run(name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				if _, err := keys.BuildKey("User", input, true); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkConcurrentCacheAccess(b *testing.B) {
	container, err := NewContainerWithDefaults()
	if err != nil {
		b.Fatalf("NewContainerWithDefaults() failed: %v", err)
	}
	repo, err := NewCachedRepository[User](container, seededTable(100))
	if err != nil {
		b.Fatalf("NewCachedRepository() failed: %v", err)
	}
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_, _ = repo.GetByID(ctx, fmt.Sprintf("user-%d", i%100))
			i++
		}
	})
}
