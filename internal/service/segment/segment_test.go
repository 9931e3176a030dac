package segment

import (
	"sync"
	"testing"
)

func TestGenerator_Next(t *testing.T) {
	gen := New()

	tests := []struct {
		session  string
		expected string
	}{
		{"sess-a", "sess-a-utt-1"},
		{"sess-a", "sess-a-utt-2"},
		{"sess-b", "sess-b-utt-3"},
	}

	for _, tt := range tests {
		if got := gen.Next(tt.session); got != tt.expected {
			t.Errorf("Next(%s) = %s, want %s", tt.session, got, tt.expected)
		}
	}
}

func TestGenerator_ConcurrentUnique(t *testing.T) {
	gen := New()
	const workers, perWorker = 50, 20

	var wg sync.WaitGroup
	results := make(chan string, workers*perWorker)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				results <- gen.Next("sess")
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	for id := range results {
		if seen[id] {
			t.Errorf("duplicate utterance ID generated: %s", id)
		}
		seen[id] = true
	}
	if len(seen) != workers*perWorker {
		t.Errorf("expected %d unique IDs, got %d", workers*perWorker, len(seen))
	}
}
