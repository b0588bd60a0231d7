package identity

import (
	"context"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/tabpulse/kvstore"
)

func TestValid(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"0190a6e2-1a2b-7c3d-8e4f-5a6b7c8d9e0f", true},
		{"0190A6E2-1A2B-7C3D-8E4F-5A6B7C8D9E0F", true},
		{"not-a-uuid", false},
		{"", false},
		{"0190a6e21a2b7c3d8e4f5a6b7c8d9e0f", false},                    // dashless
		{"{0190a6e2-1a2b-7c3d-8e4f-5a6b7c8d9e0f}", false},              // braces
		{"urn:uuid:0190a6e2-1a2b-7c3d-8e4f-5a6b7c8d9e0f", false},       // urn
		{"0190a6e2-1a2b-7c3d-8e4f-5a6b7c8d9e0", false},                 // short
		{"g190a6e2-1a2b-7c3d-8e4f-5a6b7c8d9e0f", false},                // non-hex
	}
	for _, c := range cases {
		if got := Valid(c.in); got != c.want {
			t.Errorf("Valid(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestGetOrCreate_Stable(t *testing.T) {
	kv := kvstore.OpenMemory(t)
	ids := New(kv, nil)
	ctx := context.Background()

	first, err := ids.GetOrCreate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !Valid(first) {
		t.Fatalf("generated id not canonical: %q", first)
	}

	second, err := ids.GetOrCreate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Fatalf("id changed within session: %q then %q", first, second)
	}

	// A fresh Store over the same kv resolves the same durable value.
	again, err := New(kv, nil).GetOrCreate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if again != first {
		t.Fatalf("id changed across restarts: %q then %q", first, again)
	}
}

func TestGetOrCreate_ReplacesMalformed(t *testing.T) {
	kv := kvstore.OpenMemory(t)
	ctx := context.Background()

	if err := kv.Set(ctx, Key, "not-a-uuid"); err != nil {
		t.Fatal(err)
	}

	id, err := New(kv, nil).GetOrCreate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !Valid(id) {
		t.Fatalf("expected fresh valid id, got %q", id)
	}
	if id == "not-a-uuid" {
		t.Fatal("malformed id survived")
	}

	stored, ok, _ := kv.Get(ctx, Key)
	if !ok || stored != id {
		t.Fatalf("fresh id not persisted: stored %q ok=%v", stored, ok)
	}
}

func TestGetOrCreate_AdoptsExistingValid(t *testing.T) {
	kv := kvstore.OpenMemory(t)
	ctx := context.Background()

	const want = "0190a6e2-1a2b-7c3d-8e4f-5a6b7c8d9e0f"
	if err := kv.Set(ctx, Key, want); err != nil {
		t.Fatal(err)
	}

	id, err := New(kv, nil).GetOrCreate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if id != want {
		t.Fatalf("got %q, want stored %q", id, want)
	}
}
