package snowflake

import (
	"sync"
	"testing"
)

func TestGenerate_Monotonic(t *testing.T) {
	node, err := NewNode(3)
	if err != nil {
		t.Fatalf("NewNode failed: %v", err)
	}

	prev := node.Generate()
	for i := 0; i < 10000; i++ {
		next := node.Generate()
		if next <= prev {
			t.Fatalf("Expected strictly increasing ids, got %d after %d", next, prev)
		}
		prev = next
	}
}

func TestGenerate_UniqueAcrossGoroutines(t *testing.T) {
	node, _ := NewNode(1)

	var (
		mu   sync.Mutex
		seen = make(map[ID]struct{})
		wg   sync.WaitGroup
	)

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]ID, 0, 1000)
			for i := 0; i < 1000; i++ {
				local = append(local, node.Generate())
			}
			mu.Lock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != 8000 {
		t.Errorf("Expected 8000 unique ids, got %d", len(seen))
	}
}

func TestNewNode_OutOfRangeFallsBack(t *testing.T) {
	node, _ := NewNode(maxNodeID + 1)
	if node.nodeID != 1 {
		t.Errorf("Expected node id 1, got %d", node.nodeID)
	}
}

func TestID_String(t *testing.T) {
	if got := ID(1234567890123).String(); got != "1234567890123" {
		t.Errorf("Unexpected string %q", got)
	}
}
