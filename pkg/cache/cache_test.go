package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"course-portal-go/pkg/logging"
)

func newCaches(t *testing.T) map[string]*Cache {
	t.Helper()
	mem, err := New("", logging.Discard())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	disk, err := New(t.TempDir(), logging.Discard())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return map[string]*Cache{"memory": mem, "disk": disk}
}

func TestBytes_HitAndExpiry(t *testing.T) {
	for name, c := range newCaches(t) {
		t.Run(name, func(t *testing.T) {
			now := time.Now()
			c.now = func() time.Time { return now }

			calls := 0
			produce := func(context.Context) ([]byte, error) {
				calls++
				return []byte("page"), nil
			}
			ctx := context.Background()

			for i := 0; i < 3; i++ {
				got, err := c.Bytes(ctx, "k", time.Hour, produce)
				if err != nil || string(got) != "page" {
					t.Fatalf("Bytes() = %q, %v", got, err)
				}
			}
			if calls != 1 {
				t.Errorf("produce called %d times, want 1", calls)
			}

			now = now.Add(2 * time.Hour)
			if _, err := c.Bytes(ctx, "k", time.Hour, produce); err != nil {
				t.Fatalf("Bytes() error = %v", err)
			}
			if calls != 2 {
				t.Errorf("produce called %d times after expiry, want 2", calls)
			}
		})
	}
}

func TestBytes_BypassAndErrors(t *testing.T) {
	for name, c := range newCaches(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			calls := 0
			produce := func(context.Context) ([]byte, error) {
				calls++
				return []byte("x"), nil
			}
			c.Bytes(ctx, "k", 0, produce)
			c.Bytes(ctx, "k", 0, produce)
			if calls != 2 {
				t.Errorf("zero ttl produce calls = %d, want 2", calls)
			}

			boom := errors.New("boom")
			if _, err := c.Bytes(ctx, "e", time.Hour, func(context.Context) ([]byte, error) { return nil, boom }); !errors.Is(err, boom) {
				t.Errorf("Bytes() error = %v, want boom", err)
			}
			got, err := c.Bytes(ctx, "e", time.Hour, func(context.Context) ([]byte, error) { return []byte("ok"), nil })
			if err != nil || string(got) != "ok" {
				t.Errorf("errors must not be cached: Bytes() = %q, %v", got, err)
			}
		})
	}
}

func TestBytes_SingleFlight(t *testing.T) {
	c, _ := New("", logging.Discard())
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Bytes(context.Background(), "shared", time.Hour, func(context.Context) ([]byte, error) {
				calls.Add(1)
				<-release
				return []byte("v"), nil
			})
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("produce called %d times, want 1", calls.Load())
	}
}

func TestGetOrCompute(t *testing.T) {
	type course struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	for name, c := range newCaches(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			want := []course{{"c1", "Algorithms"}, {"c2", "Networks"}}
			calls := 0
			produce := func(context.Context) ([]course, error) {
				calls++
				return want, nil
			}

			for i := 0; i < 2; i++ {
				got, err := GetOrCompute(ctx, c, "courses", time.Hour, produce)
				if err != nil {
					t.Fatalf("GetOrCompute() error = %v", err)
				}
				if len(got) != 2 || got[1] != want[1] {
					t.Errorf("GetOrCompute() = %+v, want %+v", got, want)
				}
			}
			if calls != 1 {
				t.Errorf("produce called %d times, want 1", calls)
			}
		})
	}
}

func TestClearAndSize(t *testing.T) {
	for name, c := range newCaches(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c.Bytes(ctx, "a", time.Hour, func(context.Context) ([]byte, error) { return []byte("12345"), nil })
			c.Bytes(ctx, "b", time.Hour, func(context.Context) ([]byte, error) { return []byte("678"), nil })

			size, err := c.Size()
			if err != nil || size != 8 {
				t.Errorf("Size() = %d, %v, want 8", size, err)
			}
			if err := c.Clear(); err != nil {
				t.Fatalf("Clear() error = %v", err)
			}
			size, _ = c.Size()
			if size != 0 {
				t.Errorf("Size() after Clear() = %d, want 0", size)
			}
		})
	}
}
