package fsxlocal_test

import (
	"context"
	"testing"

	"github.com/Abraxas-365/recibo/pkg/errx"
	"github.com/Abraxas-365/recibo/pkg/fsx"
	"github.com/Abraxas-365/recibo/pkg/fsx/fsxlocal"
)

func newStore(t *testing.T) *fsxlocal.Store {
	t.Helper()
	store, err := fsxlocal.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestStore_WriteReadRoundtrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if err := store.Write(ctx, "receipts/t-1/a.jpg", []byte("jpeg bytes"), "image/jpeg"); err != nil {
		t.Fatalf("write: %v", err)
	}

	data, err := store.Read(ctx, "receipts/t-1/a.jpg")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "jpeg bytes" {
		t.Fatalf("read back %q", data)
	}

	ok, err := store.Exists(ctx, "receipts/t-1/a.jpg")
	if err != nil || !ok {
		t.Fatalf("exists: ok=%v err=%v", ok, err)
	}
}

func TestStore_ReadMissingIsNotFound(t *testing.T) {
	store := newStore(t)

	_, err := store.Read(context.Background(), "receipts/missing.jpg")
	if !errx.HasCode(err, fsx.ErrNotFound) {
		t.Fatalf("got %v, want not-found", err)
	}

	ok, err := store.Exists(context.Background(), "receipts/missing.jpg")
	if err != nil || ok {
		t.Fatalf("exists on missing: ok=%v err=%v", ok, err)
	}
}

func TestStore_WriteFailureCarriesCode(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	// A plain file where a directory component is needed makes the write fail.
	if err := store.Write(ctx, "exports", []byte("x"), ""); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	err := store.Write(ctx, "exports/t-1/out.csv", []byte("id,vendor"), "text/csv")
	if !errx.HasCode(err, fsx.ErrWriteFailed) {
		t.Fatalf("got %v, want write-failed", err)
	}
}

func TestStore_DotDotConfined(t *testing.T) {
	store := newStore(t)

	_, err := store.Read(context.Background(), "../outside")
	if err == nil {
		t.Fatal("path escape must not read outside the root")
	}
}
