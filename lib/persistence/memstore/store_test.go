package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/ValentinKolb/dGrid/lib/persistence"
	storetesting "github.com/ValentinKolb/dGrid/lib/persistence/testing"
)

func TestMemoryStore(t *testing.T) {
	storetesting.RunStoreTests(t, "memstore", Factory(nil))
}

func TestConfig(t *testing.T) {
	s := NewMemoryStore(&Options{Name: "wb", Shared: true, Async: true})
	cfg := s.Config()
	if cfg.Name != "wb" || !cfg.Shared || !cfg.Async {
		t.Errorf("Unexpected config %s", cfg)
	}
	if NewMemoryStore(nil).Config().Name != "memory" {
		t.Errorf("Expected default name memory")
	}
}

func TestClosedStore(t *testing.T) {
	s := NewMemoryStore(nil)
	_ = s.Close()

	_, _, err := s.Load(context.Background(), "k")
	var storeErr *persistence.Error
	if !errors.As(err, &storeErr) || storeErr.Code != persistence.RetCStoreUnavailable {
		t.Errorf("Expected RetCStoreUnavailable, got %v", err)
	}
	if err := s.Write(context.Background(), grid.InternalEntry{Key: "k", Value: []byte("v")}); err == nil {
		t.Errorf("Expected Write on a closed store to fail")
	}
}

func TestRejectsNullValue(t *testing.T) {
	s := NewMemoryStore(nil)
	err := s.Write(context.Background(), grid.InternalEntry{Key: "k"})
	if !errors.Is(err, persistence.NewError(persistence.RetCInvalidOperation, "")) {
		t.Errorf("Expected RetCInvalidOperation, got %v", err)
	}
}
