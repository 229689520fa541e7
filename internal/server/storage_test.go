package server

import (
	"testing"

	"github.com/google/uuid"
)

func TestObjectKeysDoNotCollide(t *testing.T) {
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		key := newObjectKey()
		if _, dup := seen[key]; dup {
			t.Fatalf("duplicate key after %d draws: %s", i, key)
		}
		seen[key] = struct{}{}
	}
}

func TestObjectKeysAreOpaque(t *testing.T) {
	a := newObjectKey()
	b := newObjectKey()
	if a == b {
		t.Fatal("consecutive keys are equal")
	}
	// Keys are uuids, not sequential counters.
	for _, k := range []string{a, b} {
		if _, err := uuid.Parse(k); err != nil {
			t.Errorf("key %q is not a uuid: %v", k, err)
		}
	}
}
