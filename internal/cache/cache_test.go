package cache

import (
	"context"
	"testing"
	"time"
)

func TestKey_Normalizes(t *testing.T) {
	if Key("Top 3  products") != Key("  top 3 PRODUCTS ") {
		t.Fatalf("expected normalized keys to match")
	}
	if Key("top 3 products") == Key("top 4 products") {
		t.Fatalf("different questions must not collide")
	}
}

func TestMemory_SetGetClear(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)

	if _, ok := m.Get(ctx, "k"); ok {
		t.Fatalf("expected miss")
	}
	m.Set(ctx, "k", Entry{SQL: "SELECT 1", Model: "m"})
	m.Set(ctx, "k2", Entry{SQL: "SELECT 2"})

	e, ok := m.Get(ctx, "k")
	if !ok || e.SQL != "SELECT 1" {
		t.Fatalf("unexpected entry: %+v ok=%v", e, ok)
	}

	n, err := m.Clear(ctx)
	if err != nil || n != 2 {
		t.Fatalf("unexpected clear: n=%d err=%v", n, err)
	}
	if _, ok := m.Get(ctx, "k"); ok {
		t.Fatalf("expected miss after clear")
	}
}

func TestMemory_Expires(t *testing.T) {
	m := NewMemory(20 * time.Millisecond)
	m.Set(context.Background(), "k", Entry{SQL: "SELECT 1"})
	time.Sleep(40 * time.Millisecond)
	if _, ok := m.Get(context.Background(), "k"); ok {
		t.Fatalf("expected entry to expire")
	}
}
