package store

import (
	"context"
	"database/sql"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *ChanceStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "giveaway.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustGetAll(t *testing.T, s *ChanceStore) map[int64]int64 {
	t.Helper()
	all, err := s.GetAll(context.Background())
	if err != nil {
		t.Fatalf("GetAll returned error: %v", err)
	}
	return all
}

func TestChanceStore_AddChance(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	t.Run("creates the record on first add", func(t *testing.T) {
		if err := s.AddChance(ctx, 1, 4); err != nil {
			t.Fatalf("AddChance: %v", err)
		}
		if got := mustGetAll(t, s)[1]; got != 4 {
			t.Errorf("Expected chance 4, got %d", got)
		}
	})

	t.Run("sums subsequent adds", func(t *testing.T) {
		for _, v := range []int64{DefaultIncrement, 2, 10} {
			if err := s.AddChance(ctx, 1, v); err != nil {
				t.Fatalf("AddChance: %v", err)
			}
		}
		if got := mustGetAll(t, s)[1]; got != 17 {
			t.Errorf("Expected chance 17, got %d", got)
		}
	})

	t.Run("adds on top of a set value", func(t *testing.T) {
		if err := s.SetChance(ctx, 2, 100); err != nil {
			t.Fatalf("SetChance: %v", err)
		}
		if err := s.AddChance(ctx, 2, -30); err != nil {
			t.Fatalf("AddChance: %v", err)
		}
		if got := mustGetAll(t, s)[2]; got != 70 {
			t.Errorf("Expected chance 70, got %d", got)
		}
	})
}

func TestChanceStore_AddChanceOverflow(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.SetChance(ctx, 1, math.MaxInt64); err != nil {
		t.Fatalf("SetChance: %v", err)
	}
	if err := s.SetChance(ctx, 2, math.MinInt64); err != nil {
		t.Fatalf("SetChance: %v", err)
	}

	if err := s.AddChance(ctx, 1, 1); !IsStorageError(err) {
		t.Fatalf("Expected a StorageError for an overflowing add, got %v", err)
	}
	if err := s.AddChance(ctx, 2, -1); !IsStorageError(err) {
		t.Fatalf("Expected a StorageError for an underflowing add, got %v", err)
	}

	all, err := s.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll after rejected add: %v", err)
	}
	if all[1] != math.MaxInt64 || all[2] != math.MinInt64 {
		t.Errorf("Rejected adds changed the stored chances: %v", all)
	}

	if err := s.AddChance(ctx, 1, -1); err != nil {
		t.Fatalf("AddChance back into range: %v", err)
	}
	if got := mustGetAll(t, s)[1]; got != math.MaxInt64-1 {
		t.Errorf("Expected %d, got %d", int64(math.MaxInt64-1), got)
	}
}

func TestChanceStore_SetChance(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.SetChance(ctx, 5, 9); err != nil {
		t.Fatalf("SetChance: %v", err)
	}
	if err := s.SetChance(ctx, 5, 2); err != nil {
		t.Fatalf("SetChance: %v", err)
	}
	if got := mustGetAll(t, s)[5]; got != 2 {
		t.Errorf("Expected last set value 2, got %d", got)
	}

	if err := s.SetChance(ctx, 0, 0); err != nil {
		t.Fatalf("SetChance for user 0: %v", err)
	}
	chance, ok, err := s.Chance(ctx, 0)
	if err != nil || !ok || chance != 0 {
		t.Errorf("Expected user 0 stored with chance 0, got %d ok=%v err=%v", chance, ok, err)
	}
}

func TestChanceStore_RemoveUser(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_ = s.SetChance(ctx, 1, 1)
	_ = s.SetChance(ctx, 2, 2)

	for i := 0; i < 2; i++ {
		if err := s.RemoveUser(ctx, 1); err != nil {
			t.Fatalf("RemoveUser call %d: %v", i+1, err)
		}
	}
	if err := s.RemoveUser(ctx, 999); err != nil {
		t.Fatalf("RemoveUser of unknown user: %v", err)
	}

	all := mustGetAll(t, s)
	if len(all) != 1 || all[2] != 2 {
		t.Errorf("Expected only user 2 to remain, got %v", all)
	}
}

func TestChanceStore_Clear(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear on empty store: %v", err)
	}
	for i := int64(1); i <= 5; i++ {
		_ = s.AddChance(ctx, i, i)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if all := mustGetAll(t, s); len(all) != 0 {
		t.Errorf("Expected empty snapshot after clear, got %v", all)
	}
}

func TestChanceStore_GetAll(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	want := map[int64]int64{10: 1, 20: 3, 30: 0}
	for id, chance := range want {
		if err := s.SetChance(ctx, id, chance); err != nil {
			t.Fatalf("SetChance: %v", err)
		}
	}
	_ = s.AddChance(ctx, 40, 1)
	_ = s.RemoveUser(ctx, 40)

	got := mustGetAll(t, s)
	if len(got) != len(want) {
		t.Fatalf("Expected %d records, got %v", len(want), got)
	}
	for id, chance := range want {
		if got[id] != chance {
			t.Errorf("user %d: expected %d, got %d", id, chance, got[id])
		}
	}

	t.Run("snapshot is a copy", func(t *testing.T) {
		got[10] = 1000
		if fresh := mustGetAll(t, s); fresh[10] != 1 {
			t.Errorf("Mutating a snapshot changed the store: %d", fresh[10])
		}
	})
}

func TestChanceStore_Chance(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, ok, err := s.Chance(ctx, 1); err != nil || ok {
		t.Fatalf("Expected absent user, got ok=%v err=%v", ok, err)
	}
	_ = s.AddChance(ctx, 1, 6)
	chance, ok, err := s.Chance(ctx, 1)
	if err != nil || !ok || chance != 6 {
		t.Errorf("Expected chance 6, got %d ok=%v err=%v", chance, ok, err)
	}
}

func TestChanceStore_ConcurrentAdd(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.AddChance(ctx, 77, 1)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent AddChance: %v", err)
		}
	}
	if got := mustGetAll(t, s)[77]; got != n {
		t.Errorf("Expected %d after concurrent adds, got %d", n, got)
	}
}

func TestChanceStore_Persistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "dir", "giveaway.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = s.SetChance(ctx, 3, 8)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Expected database file to exist: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if got := mustGetAll(t, reopened)[3]; got != 8 {
		t.Errorf("Expected persisted chance 8, got %d", got)
	}
}

func TestChanceStore_StorageErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("empty path", func(t *testing.T) {
		if _, err := Open("  "); err == nil {
			t.Fatal("Expected an error for an empty path")
		}
	})

	t.Run("parent is a file", func(t *testing.T) {
		blocker := filepath.Join(t.TempDir(), "blocker")
		if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		_, err := Open(filepath.Join(blocker, "giveaway.db"))
		if !IsStorageError(err) {
			t.Fatalf("Expected a StorageError, got %v", err)
		}
	})

	t.Run("lock wait is bounded", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "giveaway.db")
		s, err := Open(path, WithBusyTimeout(200*time.Millisecond))
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer s.Close()

		other, err := sql.Open("sqlite3", path)
		if err != nil {
			t.Fatalf("open second connection: %v", err)
		}
		defer other.Close()
		conn, err := other.Conn(ctx)
		if err != nil {
			t.Fatalf("acquire connection: %v", err)
		}
		defer conn.Close()
		if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
			t.Fatalf("BEGIN IMMEDIATE: %v", err)
		}
		defer conn.ExecContext(ctx, "ROLLBACK")

		start := time.Now()
		err = s.AddChance(ctx, 1, 1)
		elapsed := time.Since(start)
		if !IsStorageError(err) {
			t.Fatalf("Expected a StorageError while the write lock is held, got %v", err)
		}
		if elapsed > 3*time.Second {
			t.Errorf("Lock wait took %v, expected it to give up near the busy timeout", elapsed)
		}
	})

	t.Run("closed store", func(t *testing.T) {
		s := openTestStore(t)
		if err := s.Close(); err != nil {
			t.Fatal(err)
		}
		err := s.AddChance(ctx, 1, 1)
		if !IsStorageError(err) {
			t.Fatalf("Expected a StorageError after close, got %v", err)
		}
		if _, err := s.GetAll(ctx); !IsStorageError(err) {
			t.Fatalf("Expected a StorageError from GetAll after close, got %v", err)
		}
	})
}
