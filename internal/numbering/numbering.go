// Package numbering mints the human-readable document numbers shown on
// quotes, invoices and receipts: PREFIX + year + "-" + zero-padded
// ordinal + "-" + random suffix, e.g. INV2025-014-xk3p.
//
// The ordinal comes from an atomic per-(owner, type, year) counter row,
// so two concurrent creations can never compute the same ordinal. The
// random suffix and the storage-level unique constraint on
// (owner_id, number) remain as defense in depth.
package numbering

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/fieldserve/fieldserve-api/internal/domain"
	"github.com/fieldserve/fieldserve-api/internal/token"
)

// CounterRepo increments and returns the next ordinal for a scope in a
// single atomic statement.
type CounterRepo interface {
	NextOrdinal(ctx context.Context, ownerID int64, docType domain.DocType, year int) (int64, error)
	// SeedFloor raises the counter to at least floor. Used when
	// backfilling counters for owners with pre-existing numbers.
	SeedFloor(ctx context.Context, ownerID int64, docType domain.DocType, year int, floor int64) error
}

// PrefixProvider resolves the owner's configured prefix for a document
// type. Implementations fall back to defaults; they never fail a
// generation over missing settings.
type PrefixProvider interface {
	Prefix(ctx context.Context, ownerID int64, docType domain.DocType) (string, error)
}

// DefaultPrefix returns the type default used when an owner has no
// configured prefix.
func DefaultPrefix(docType domain.DocType) string {
	switch docType {
	case domain.DocTypeInvoice:
		return "INV"
	case domain.DocTypeReceipt:
		return "RCT"
	default:
		return "QT"
	}
}

const suffixLength = 4

type Generator struct {
	counters CounterRepo
	prefixes PrefixProvider
	now      func() time.Time
}

func NewGenerator(counters CounterRepo, prefixes PrefixProvider) *Generator {
	return &Generator{
		counters: counters,
		prefixes: prefixes,
		now:      time.Now,
	}
}

// Generate mints the next number for the owner and document type in
// the current year. The number becomes unique only once persisted as
// part of the owning document's insert.
func (g *Generator) Generate(ctx context.Context, ownerID int64, docType domain.DocType) (string, error) {
	if !domain.IsValidDocType(docType) {
		return "", fmt.Errorf("invalid document type %q", docType)
	}

	prefix, err := g.prefixes.Prefix(ctx, ownerID, docType)
	if err != nil || prefix == "" {
		prefix = DefaultPrefix(docType)
	}

	year := g.now().Year()
	ordinal, err := g.counters.NextOrdinal(ctx, ownerID, docType, year)
	if err != nil {
		return "", fmt.Errorf("failed to advance counter: %w", err)
	}

	suffix, err := token.Suffix(suffixLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate suffix: %w", err)
	}

	return Format(prefix, year, ordinal, suffix), nil
}

// Format renders a document number from its parts.
func Format(prefix string, year int, ordinal int64, suffix string) string {
	return fmt.Sprintf("%s%d-%03d-%s", prefix, year, ordinal, suffix)
}

var prefixPattern = regexp.MustCompile(`^[A-Za-z]{1,10}$`)

// ValidPrefix reports whether a configured prefix keeps issued numbers
// parseable. The year digits follow the prefix immediately, so a digit
// in the prefix would make the boundary ambiguous.
func ValidPrefix(prefix string) bool {
	return prefixPattern.MatchString(prefix)
}

var numberPattern = regexp.MustCompile(`^([A-Za-z]+)(\d{4})-(\d+)(?:-([A-Za-z0-9]+))?$`)

// ParseOrdinal extracts the trailing ordinal from a previously issued
// number for the given year, returning false when the number does not
// match the pattern or belongs to another year. It exists to seed
// counters from numbers issued before the atomic counter was in place.
func ParseOrdinal(number string, year int) (int64, bool) {
	m := numberPattern.FindStringSubmatch(number)
	if m == nil {
		return 0, false
	}
	if y, err := strconv.Atoi(m[2]); err != nil || y != year {
		return 0, false
	}
	ordinal, err := strconv.ParseInt(m[3], 10, 64)
	if err != nil {
		return 0, false
	}
	return ordinal, true
}

// SeedFromNumbers raises the counter for a scope to the highest ordinal
// found among existing numbers. Safe to run repeatedly.
func (g *Generator) SeedFromNumbers(ctx context.Context, ownerID int64, docType domain.DocType, year int, numbers []string) error {
	var max int64
	for _, n := range numbers {
		if ord, ok := ParseOrdinal(n, year); ok && ord > max {
			max = ord
		}
	}
	if max == 0 {
		return nil
	}
	return g.counters.SeedFloor(ctx, ownerID, docType, year, max)
}
