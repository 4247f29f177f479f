package hashing

import (
	"strings"
	"testing"

	"email-auth-service/internal/config"
)

func testHasher() *Hasher {
	// Low-cost parameters keep the tests fast; the encoding round trip is
	// what's under test, not the work factor.
	return NewHasher(&config.Config{
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  8 * 1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
		},
	})
}

func TestHashAndVerify(t *testing.T) {
	h := testHasher()

	encoded, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Fatalf("unexpected hash format: %q", encoded)
	}

	ok, err := h.Verify("correct horse battery staple", encoded)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !ok {
		t.Error("Verify rejected the correct password")
	}

	ok, err = h.Verify("wrong password", encoded)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ok {
		t.Error("Verify accepted a wrong password")
	}
}

func TestHashSaltsDiffer(t *testing.T) {
	h := testHasher()

	a, err := h.Hash("same password")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	b, err := h.Hash("same password")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if a == b {
		t.Error("two hashes of the same password are identical; salt is not random")
	}
}

func TestVerifyRejectsMalformed(t *testing.T) {
	h := testHasher()

	for _, encoded := range []string{"", "not-a-hash", "$argon2id$v=19$garbage"} {
		if _, err := h.Verify("password", encoded); err == nil {
			t.Errorf("Verify accepted malformed hash %q", encoded)
		}
	}
}
