package sqlite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/louisbranch/pixelwall/internal/platform/clock"
	"github.com/louisbranch/pixelwall/internal/services/canvas/domain"
)

func newActiveCanvas(t *testing.T, store *Store, limiterCfg domain.LimiterConfig) *domain.Mutator {
	t.Helper()
	fake := clock.NewFake(testNow)
	sessions := domain.NewSessionMachine(store, fake, nil, 0)
	if _, err := sessions.Start(context.Background(), domain.StartInput{CreatedBy: "admin"}); err != nil {
		t.Fatalf("start session: %v", err)
	}
	limiter := domain.NewLimiter(store, limiterCfg, nil)
	return domain.NewMutator(store, limiter, fake, nil)
}

func TestConcurrentPlacementsHonorRateLimit(t *testing.T) {
	store := openTestStore(t)
	mutator := newActiveCanvas(t, store, domain.LimiterConfig{ConflictAttempts: 200})

	const placements = 40
	var (
		mu      sync.Mutex
		allowed int
		limited int
		wg      sync.WaitGroup
		start   = make(chan struct{})
		errs    []error
	)
	for i := 0; i < placements; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := mutator.PlacePixel(context.Background(), domain.PlacePixel{
				X:       i,
				Y:       0,
				Color:   "00FF00",
				OwnerID: "u1",
			})
			mu.Lock()
			defer mu.Unlock()
			var rejection *domain.Rejection
			switch {
			case err == nil:
				allowed++
			case errors.As(err, &rejection) && rejection.Reason == domain.RejectRateLimited:
				limited++
			default:
				errs = append(errs, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("placement errors: %v", errs)
	}
	if allowed != domain.DefaultRateMax || limited != placements-domain.DefaultRateMax {
		t.Fatalf("allowed=%d limited=%d, want %d/%d", allowed, limited, domain.DefaultRateMax, placements-domain.DefaultRateMax)
	}
	stat, found, err := store.GetUserStat(context.Background(), "u1")
	if err != nil || !found {
		t.Fatalf("get stat: found=%v err=%v", found, err)
	}
	if stat.PixelCount != domain.DefaultRateMax {
		t.Fatalf("pixel count = %d, want %d", stat.PixelCount, domain.DefaultRateMax)
	}
	count, err := store.CountPixels(context.Background())
	if err != nil {
		t.Fatalf("count pixels: %v", err)
	}
	if count != domain.DefaultRateMax {
		t.Fatalf("stored pixels = %d, want %d", count, domain.DefaultRateMax)
	}
}

func TestConcurrentWritesToOneCoordinateKeepOneWriter(t *testing.T) {
	store := openTestStore(t)
	mutator := newActiveCanvas(t, store, domain.LimiterConfig{})

	const writers = 16
	colors := make(map[string]string, writers)
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make(chan error, writers)
	)
	for i := 0; i < writers; i++ {
		owner := fmt.Sprintf("u%d", i)
		color := fmt.Sprintf("%06X", i*0x0F0F01+1)
		colors[owner] = color
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := mutator.PlacePixel(context.Background(), domain.PlacePixel{
				X:         7,
				Y:         3,
				Color:     color,
				OwnerID:   owner,
				OwnerName: "name-" + owner,
			})
			if err != nil {
				errs <- fmt.Errorf("%s: %w", owner, err)
			}
		}()
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("placement failed: %v", err)
	}

	pixel, found, err := store.GetPixel(context.Background(), 7, 3)
	if err != nil || !found {
		t.Fatalf("get pixel: found=%v err=%v", found, err)
	}
	want, ok := colors[pixel.OwnerID]
	if !ok {
		t.Fatalf("pixel owner %q is not a writer", pixel.OwnerID)
	}
	if pixel.Color != want || pixel.OwnerName != "name-"+pixel.OwnerID {
		t.Fatalf("pixel = %+v, want color %s and name of %s", pixel, want, pixel.OwnerID)
	}
	count, err := store.CountPixels(context.Background())
	if err != nil {
		t.Fatalf("count pixels: %v", err)
	}
	if count != 1 {
		t.Fatalf("stored pixels = %d, want 1", count)
	}
	for owner := range colors {
		stat, found, err := store.GetUserStat(context.Background(), owner)
		if err != nil || !found || stat.PixelCount != 1 {
			t.Fatalf("stat %s = %+v found=%v err=%v", owner, stat, found, err)
		}
	}
}
