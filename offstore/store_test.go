package offstore

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type budget struct {
	ID       string  `json:"id"`
	Category string  `json:"category"`
	Limit    float64 `json:"limit"`
}

// flakyBackend wraps a MemoryBackend and fails the first failWrites writes.
type flakyBackend struct {
	*MemoryBackend
	failWrites atomic.Int32
	failLoads  atomic.Bool
	writes     atomic.Int32
	onLoad     func()
}

var errDisk = errors.New("disk I/O error")

func newFlakyBackend(failWrites int) *flakyBackend {
	b := &flakyBackend{MemoryBackend: NewMemoryBackend()}
	b.failWrites.Store(int32(failWrites))
	return b
}

func (f *flakyBackend) Name() string { return "flaky" }

func (f *flakyBackend) fail() bool {
	f.writes.Add(1)
	return f.failWrites.Add(-1) >= 0
}

func (f *flakyBackend) Replace(ctx context.Context, c string, docs []Document) error {
	if f.fail() {
		return errDisk
	}
	return f.MemoryBackend.Replace(ctx, c, docs)
}

func (f *flakyBackend) Put(ctx context.Context, c string, d Document) error {
	if f.fail() {
		return errDisk
	}
	return f.MemoryBackend.Put(ctx, c, d)
}

func (f *flakyBackend) Delete(ctx context.Context, c, id string) error {
	if f.fail() {
		return errDisk
	}
	return f.MemoryBackend.Delete(ctx, c, id)
}

func (f *flakyBackend) Load(ctx context.Context, c string) ([]Document, error) {
	if f.onLoad != nil {
		f.onLoad()
	}
	if f.failLoads.Load() {
		return nil, errDisk
	}
	return f.MemoryBackend.Load(ctx, c)
}

func fastConfig(obs Observer) *Config {
	return &Config{MaxRetries: 3, BaseDelay: time.Millisecond, Observer: obs}
}

func staticOpener(b Backend) Opener {
	return func(context.Context) (Backend, error) { return b, nil }
}

func failingOpener(context.Context) (Backend, error) {
	return nil, errors.New("platform store unavailable")
}

func sampleBudgets() []budget {
	return []budget{
		{ID: "b1", Category: "food", Limit: 300},
		{ID: "b2", Category: "rent", Limit: 1200},
		{ID: "b3", Category: "fun", Limit: 50},
	}
}

func TestSaveLoadRoundTripMemory(t *testing.T) {
	ctx := context.Background()
	s := New(staticOpener(NewMemoryBackend()), fastConfig(nil), nil)
	defer s.Close()

	require.NoError(t, s.Save(ctx, Budgets, sampleBudgets()))
	got, err := LoadList[budget](ctx, s, Budgets)
	require.NoError(t, err)
	require.Equal(t, sampleBudgets(), got)
	require.Equal(t, "memory", s.Backend())
	require.False(t, s.FallbackOnly())
}

func TestSaveLoadRoundTripSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")
	s := New(SQLiteOpener(DefaultSQLiteConfig(path)), fastConfig(nil), nil)
	defer s.Close()

	require.NoError(t, s.Save(ctx, Budgets, sampleBudgets()))
	got, err := LoadList[budget](ctx, s, Budgets)
	require.NoError(t, err)
	require.Equal(t, sampleBudgets(), got)
	require.Equal(t, "sqlite", s.Backend())
}

func TestSaveLoadRoundTripForcedFallback(t *testing.T) {
	ctx := context.Background()
	var events []StoreEvent
	var mu sync.Mutex
	obs := ObserverFunc(func(_ context.Context, ev StoreEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})
	s := New(failingOpener, fastConfig(obs), nil)

	require.NoError(t, s.Save(ctx, Budgets, sampleBudgets()))
	got, err := LoadList[budget](ctx, s, Budgets)
	require.NoError(t, err)
	require.Equal(t, sampleBudgets(), got)
	require.True(t, s.FallbackOnly())
	require.Equal(t, "memory", s.Backend())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)
	require.Equal(t, OpInit, events[0].Op)
	require.True(t, events[0].Fallback)
	require.Error(t, events[0].Err)
}

func TestNilOpenerIsMemoryOnly(t *testing.T) {
	s := New(nil, nil, nil)
	s.Init(context.Background())
	require.True(t, s.FallbackOnly())
}

func TestInitOpensOnce(t *testing.T) {
	var calls atomic.Int32
	opener := func(context.Context) (Backend, error) {
		calls.Add(1)
		time.Sleep(5 * time.Millisecond)
		return NewMemoryBackend(), nil
	}
	s := New(opener, fastConfig(nil), nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Load(context.Background(), Wallets)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), calls.Load())
}

func TestWriteRetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	b := newFlakyBackend(2)
	s := New(staticOpener(b), fastConfig(nil), nil)

	require.NoError(t, s.Save(ctx, Budgets, sampleBudgets()))
	require.Equal(t, int32(3), b.writes.Load())
	require.Empty(t, s.Degraded())

	docs, err := b.MemoryBackend.Load(ctx, Budgets)
	require.NoError(t, err)
	require.Len(t, docs, 3)
}

func TestWriteExhaustionFallsBackObservably(t *testing.T) {
	ctx := context.Background()
	b := newFlakyBackend(0)
	var fallbacks atomic.Int32
	obs := ObserverFunc(func(_ context.Context, ev StoreEvent) {
		if ev.Fallback && ev.Op == OpSaveItem {
			fallbacks.Add(1)
		}
	})
	s := New(staticOpener(b), fastConfig(obs), nil)

	// Healthy write first, then the disk starts failing.
	require.NoError(t, s.Save(ctx, Budgets, sampleBudgets()[:2]))
	b.failWrites.Store(100)

	require.NoError(t, s.SaveItem(ctx, Budgets, sampleBudgets()[2]))
	require.Equal(t, int32(1+4), b.writes.Load(), "one healthy write plus initial attempt and three retries")
	require.Equal(t, []string{Budgets}, s.Degraded())
	require.Equal(t, int32(1), fallbacks.Load())

	got, err := LoadList[budget](ctx, s, Budgets)
	require.NoError(t, err)
	require.Equal(t, sampleBudgets(), got, "fallback is seeded with what the primary still had")

	// Other collections keep using the primary.
	b.failWrites.Store(0)
	require.NoError(t, s.Save(ctx, Wallets, []map[string]any{{"id": "w1"}}))
	docs, err := b.MemoryBackend.Load(ctx, Wallets)
	require.NoError(t, err)
	require.Len(t, docs, 1)
}

func TestDegradeSeedsFallbackBeforeSwitching(t *testing.T) {
	ctx := context.Background()
	b := newFlakyBackend(0)
	s := New(staticOpener(b), fastConfig(nil), nil)
	require.NoError(t, s.Save(ctx, Budgets, sampleBudgets()[:2]))
	b.failWrites.Store(100)

	var armed atomic.Bool
	armed.Store(true)
	seeding := make(chan struct{})
	release := make(chan struct{})
	b.onLoad = func() {
		if armed.CompareAndSwap(true, false) {
			close(seeding)
			<-release
		}
	}

	done := make(chan error, 1)
	go func() { done <- s.SaveItem(ctx, Budgets, sampleBudgets()[2]) }()
	<-seeding

	require.Empty(t, s.Degraded(), "not switched while the fallback is being seeded")
	got, err := LoadList[budget](ctx, s, Budgets)
	require.NoError(t, err)
	require.Equal(t, sampleBudgets()[:2], got)

	close(release)
	require.NoError(t, <-done)
	require.Equal(t, []string{Budgets}, s.Degraded())
	got, err = LoadList[budget](ctx, s, Budgets)
	require.NoError(t, err)
	require.Equal(t, sampleBudgets(), got)
}

func TestWriteRetryStopsOnContextCancel(t *testing.T) {
	b := newFlakyBackend(100)
	s := New(staticOpener(b), &Config{MaxRetries: 3, BaseDelay: time.Hour}, nil)
	s.Init(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Save(ctx, Budgets, sampleBudgets()))
	require.Equal(t, int32(1), b.writes.Load())
	require.Equal(t, []string{Budgets}, s.Degraded())
}

func TestLoadFailureReturnsEmptyShape(t *testing.T) {
	ctx := context.Background()
	b := newFlakyBackend(0)
	b.failLoads.Store(true)
	s := New(staticOpener(b), fastConfig(nil), nil)

	require.JSONEq(t, `[]`, string(s.Load(ctx, Transactions)))
	require.JSONEq(t, `{}`, string(s.Load(ctx, Settings)))
}

func TestLoadNeverWritten(t *testing.T) {
	ctx := context.Background()
	s := New(staticOpener(NewMemoryBackend()), fastConfig(nil), nil)
	require.JSONEq(t, `[]`, string(s.Load(ctx, Categories)))
	require.JSONEq(t, `{}`, string(s.Load(ctx, Settings)))
}

func TestSaveItemUpsertsAndDeleteItem(t *testing.T) {
	ctx := context.Background()
	s := New(staticOpener(NewMemoryBackend()), fastConfig(nil), nil)
	require.NoError(t, s.Save(ctx, Budgets, sampleBudgets()))

	require.NoError(t, s.SaveItem(ctx, Budgets, budget{ID: "b2", Category: "rent", Limit: 1300}))
	require.NoError(t, s.SaveItem(ctx, Budgets, budget{ID: "b4", Category: "gifts", Limit: 20}))
	s.DeleteItem(ctx, Budgets, "b1")
	s.DeleteItem(ctx, Budgets, "missing")

	got, err := LoadList[budget](ctx, s, Budgets)
	require.NoError(t, err)
	require.Equal(t, []budget{
		{ID: "b2", Category: "rent", Limit: 1300},
		{ID: "b3", Category: "fun", Limit: 50},
		{ID: "b4", Category: "gifts", Limit: 20},
	}, got)
}

func TestSettingsObjectCollection(t *testing.T) {
	ctx := context.Background()
	s := New(staticOpener(NewMemoryBackend()), fastConfig(nil), nil)

	require.NoError(t, s.Save(ctx, Settings, map[string]any{"currency": "EUR", "theme": "dark"}))
	require.NoError(t, s.SaveItem(ctx, Settings, map[string]any{"theme": "light", "locale": "de"}))
	s.DeleteItem(ctx, Settings, "currency")

	got, err := LoadObject(ctx, s, Settings)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"theme": "light", "locale": "de"}, got)
}

func TestShapeMismatch(t *testing.T) {
	ctx := context.Background()
	s := New(staticOpener(NewMemoryBackend()), fastConfig(nil), nil)

	err := s.Save(ctx, Budgets, map[string]any{"id": "b1"})
	require.ErrorIs(t, err, ErrShapeMismatch)
	err = s.Save(ctx, Settings, []int{1, 2})
	require.ErrorIs(t, err, ErrShapeMismatch)
	err = s.SaveItem(ctx, Budgets, "nope")
	require.ErrorIs(t, err, ErrShapeMismatch)
	err = s.Save(ctx, Budgets, []int{1})
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestAccountsAliasesWallets(t *testing.T) {
	ctx := context.Background()
	s := New(staticOpener(NewMemoryBackend()), fastConfig(nil), nil)
	require.NoError(t, s.Save(ctx, Accounts, []map[string]any{{"id": "w1", "name": "Cash"}}))
	require.JSONEq(t, `[{"id":"w1","name":"Cash"}]`, string(s.Load(ctx, Wallets)))
}

func TestIndexedCollectionLoadsInIndexOrder(t *testing.T) {
	ctx := context.Background()
	for name, opener := range map[string]Opener{
		"memory": staticOpener(NewMemoryBackend()),
		"sqlite": SQLiteOpener(DefaultSQLiteConfig(filepath.Join(t.TempDir(), "q.db"))),
	} {
		t.Run(name, func(t *testing.T) {
			s := New(opener, fastConfig(nil), nil)
			defer s.Close()
			ops := []map[string]any{
				{"id": "c", "timestamp": 300},
				{"id": "a", "timestamp": 1000},
				{"id": "b", "timestamp": 20},
			}
			require.NoError(t, s.Save(ctx, OfflineQueue, ops))

			var got []struct {
				ID string `json:"id"`
			}
			require.NoError(t, json.Unmarshal(s.Load(ctx, OfflineQueue), &got))
			require.Equal(t, "b", got[0].ID)
			require.Equal(t, "c", got[1].ID)
			require.Equal(t, "a", got[2].ID)
		})
	}
}

func TestItemsWithoutIDAreKept(t *testing.T) {
	ctx := context.Background()
	s := New(staticOpener(NewMemoryBackend()), fastConfig(nil), nil)
	require.NoError(t, s.Save(ctx, Categories, []map[string]any{{"name": "a"}, {"name": "b"}}))
	require.JSONEq(t, `[{"name":"a"},{"name":"b"}]`, string(s.Load(ctx, Categories)))
}
