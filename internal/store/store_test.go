package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rickgao/kabu-market/internal/config"
	"github.com/rickgao/kabu-market/internal/database"
	"github.com/rickgao/kabu-market/internal/model"
)

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return NewMemory()
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "kabu.db"))
		if err != nil {
			t.Fatalf("OpenSQLite failed: %v", err)
		}
		s := NewSQLite(db)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestSQLiteStore_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kabu.db")
	id := uuid.New()

	db, err := database.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	s := NewSQLite(db)
	if err := s.Set(ctx, id, 700); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Write(ctx, model.MarketState{Price: 142, Delta: -7, LastUpdateDay: 9}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	s.Close()

	db, err = database.OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	s = NewSQLite(db)
	defer s.Close()

	qty, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if qty != 700 {
		t.Errorf("Get() = %d, want 700", qty)
	}
	st, err := s.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if st.Price != 142 || st.Delta != -7 || st.LastUpdateDay != 9 {
		t.Errorf("Read() = %+v, want (142, -7, 9)", st)
	}
}

func TestPostgresStore_NilPool(t *testing.T) {
	ctx := context.Background()
	s := NewPostgres(nil)
	id := uuid.New()

	checks := []struct {
		name string
		err  error
	}{
		{"Set", s.Set(ctx, id, 1)},
		{"ClearAll", s.ClearAll(ctx)},
		{"Write", s.Write(ctx, model.DefaultMarketState())},
		{"CompareAndSwap", s.CompareAndSwap(ctx, 1, model.DefaultMarketState())},
		{"ResetPeriod", s.ResetPeriod(ctx, 1, model.DefaultMarketState())},
		{"Ping", s.Ping(ctx)},
	}
	for _, c := range checks {
		if !errors.Is(c.err, errNilPool) {
			t.Errorf("%s error = %v, want %v", c.name, c.err, errNilPool)
		}
	}

	if _, err := s.Get(ctx, id); !errors.Is(err, errNilPool) {
		t.Errorf("Get error = %v, want %v", err, errNilPool)
	}
	if _, err := s.Adjust(ctx, id, 1); !errors.Is(err, errNilPool) {
		t.Errorf("Adjust error = %v, want %v", err, errNilPool)
	}
	if _, err := s.Debit(ctx, id, 1); !errors.Is(err, errNilPool) {
		t.Errorf("Debit error = %v, want %v", err, errNilPool)
	}
	if _, err := s.TopN(ctx, 5); !errors.Is(err, errNilPool) {
		t.Errorf("TopN error = %v, want %v", err, errNilPool)
	}
	if _, err := s.Read(ctx); !errors.Is(err, errNilPool) {
		t.Errorf("Read error = %v, want %v", err, errNilPool)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		s, err := Open(ctx, config.DatabaseConfig{Driver: config.DriverMemory}, nil)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		defer s.Close()
		if _, ok := s.(*Memory); !ok {
			t.Errorf("Open(memory) = %T, want *Memory", s)
		}
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := config.DatabaseConfig{
			Driver: config.DriverSQLite,
			SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "kabu.db")},
		}
		s, err := Open(ctx, cfg, nil)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		defer s.Close()
		if err := s.Ping(ctx); err != nil {
			t.Errorf("Ping() = %v", err)
		}
	})

	t.Run("unknown driver", func(t *testing.T) {
		if _, err := Open(ctx, config.DatabaseConfig{Driver: "mysql"}, nil); err == nil {
			t.Error("Open(mysql) should fail")
		}
	})
}
