package store

import (
	"regexp"
	"testing"

	"github.com/transfa/peer-network-service/internal/domain"
)

func TestSchemaOrdersPairColumnsByBytes(t *testing.T) {
	// Pair keys are ordered by byte value, which disagrees with locale collations for mixed case.
	key, err := domain.NewPairKey("a", "B")
	if err != nil {
		t.Fatalf("NewPairKey: %v", err)
	}
	if key.A != "B" || key.B != "a" {
		t.Fatalf("expected byte-ordered key B|a, got %s", key)
	}

	for _, pattern := range []string{
		`customer_a\s+TEXT COLLATE "C" NOT NULL`,
		`customer_b\s+TEXT COLLATE "C" NOT NULL`,
		`CHECK \(customer_a COLLATE "C" < customer_b COLLATE "C"\)`,
	} {
		if !regexp.MustCompile(pattern).MatchString(schemaSQL) {
			t.Fatalf("schema is missing %q", pattern)
		}
	}
}
