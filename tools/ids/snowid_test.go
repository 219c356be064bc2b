package ids

import (
	"sync"
	"testing"
)

func TestGenerateMonotonicAndUnique(t *testing.T) {
	const n = 5000
	prev := int64(0)
	for i := 0; i < n; i++ {
		id := Generate()
		if id <= prev {
			t.Fatalf("id not strictly increasing: prev=%d cur=%d", prev, id)
		}
		prev = id
	}
}

func TestGenerateConcurrentUnique(t *testing.T) {
	const workers = 8
	const perWorker = 2000

	var mu sync.Mutex
	seen := make(map[int64]struct{}, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				local = append(local, Generate())
			}
			mu.Lock()
			for _, id := range local {
				if _, dup := seen[id]; dup {
					mu.Unlock()
					t.Errorf("duplicate id %d", id)
					return
				}
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
}
