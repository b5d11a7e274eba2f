package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofhir/bundlevalidator/pkg/logger"
)

func TestDebouncerCoalesces(t *testing.T) {
	d := newDebouncer(20 * time.Millisecond)
	defer d.stop()

	calls := make(chan []string, 4)
	fn := func(changed []string) { calls <- changed }
	d.trigger("b", fn)
	d.trigger("a", fn)
	d.trigger("b", fn)

	select {
	case got := <-calls:
		if len(got) != 2 || got[0] != "a" || got[1] != "b" {
			t.Errorf("changed = %v, want [a b]", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("debouncer never fired")
	}

	select {
	case got := <-calls:
		t.Errorf("unexpected second call with %v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNewRequiresFiles(t *testing.T) {
	if _, err := New(nil, time.Millisecond, logger.Discard()); err == nil {
		t.Error("New(nil) expected error")
	}
}

func TestWatcherDetectsWrite(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "bundle.json")
	other := filepath.Join(dir, "other.json")
	for _, f := range []string{watched, other} {
		if err := os.WriteFile(f, []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	w, err := New([]string{watched}, 20*time.Millisecond, logger.Discard())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var seen [][]string
	fired := make(chan struct{}, 8)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(changed []string) {
			mu.Lock()
			seen = append(seen, changed)
			mu.Unlock()
			select {
			case fired <- struct{}{}:
			default:
			}
		})
	}()

	// Give the watcher time to register before writing.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
wait:
	for {
		select {
		case <-fired:
			break wait
		case <-tick.C:
			_ = os.WriteFile(other, []byte(`{"x":1}`), 0o644)
			_ = os.WriteFile(watched, []byte(`{"resourceType":"Bundle"}`), 0o644)
		case <-deadline:
			t.Fatal("no change reported")
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	abs, _ := filepath.Abs(watched)
	for _, changed := range seen {
		for _, name := range changed {
			if name != abs && filepath.Clean(name) != abs {
				t.Errorf("unwatched file reported: %s", name)
			}
		}
	}
}
