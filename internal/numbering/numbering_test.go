package numbering_test

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/fieldserve/fieldserve-api/internal/domain"
	"github.com/fieldserve/fieldserve-api/internal/numbering"
)

type fakeCounterRepo struct {
	counters map[string]int64
	err      error
}

func newFakeCounterRepo() *fakeCounterRepo {
	return &fakeCounterRepo{counters: make(map[string]int64)}
}

func scopeKey(ownerID int64, docType domain.DocType, year int) string {
	return fmt.Sprintf("%d/%s/%d", ownerID, docType, year)
}

func (f *fakeCounterRepo) NextOrdinal(_ context.Context, ownerID int64, docType domain.DocType, year int) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	key := scopeKey(ownerID, docType, year)
	f.counters[key]++
	return f.counters[key], nil
}

func (f *fakeCounterRepo) SeedFloor(_ context.Context, ownerID int64, docType domain.DocType, year int, floor int64) error {
	key := scopeKey(ownerID, docType, year)
	if f.counters[key] < floor {
		f.counters[key] = floor
	}
	return nil
}

type fakePrefixProvider struct {
	prefixes map[int64]string
	err      error
}

func (f *fakePrefixProvider) Prefix(_ context.Context, ownerID int64, docType domain.DocType) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.prefixes[ownerID], nil
}

func TestGenerate_SequentialOrdinalsIncrease(t *testing.T) {
	gen := numbering.NewGenerator(newFakeCounterRepo(), &fakePrefixProvider{
		prefixes: map[int64]string{1: "ACME"},
	})

	year := fmt.Sprintf("%d", currentYear())
	pattern := regexp.MustCompile(`^ACME` + year + `-(\d{3,})-[A-Za-z0-9]{4}$`)

	var prev int64
	for i := 1; i <= 5; i++ {
		number, err := gen.Generate(context.Background(), 1, domain.DocTypeQuote)
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}

		m := pattern.FindStringSubmatch(number)
		if m == nil {
			t.Fatalf("Number %q does not match expected pattern", number)
		}

		ord, _ := numbering.ParseOrdinal(number, currentYear())
		if ord <= prev {
			t.Fatalf("Ordinal did not increase: %d after %d", ord, prev)
		}
		if ord != int64(i) {
			t.Fatalf("Expected ordinal %d, got %d", i, ord)
		}
		prev = ord
	}
}

func TestGenerate_ScopesAreIndependent(t *testing.T) {
	gen := numbering.NewGenerator(newFakeCounterRepo(), &fakePrefixProvider{
		prefixes: map[int64]string{1: "ACME", 2: "BOLT"},
	})
	ctx := context.Background()

	// Owner 1 issues two quotes.
	if _, err := gen.Generate(ctx, 1, domain.DocTypeQuote); err != nil {
		t.Fatal(err)
	}
	second, err := gen.Generate(ctx, 1, domain.DocTypeQuote)
	if err != nil {
		t.Fatal(err)
	}
	if ord, _ := numbering.ParseOrdinal(second, currentYear()); ord != 2 {
		t.Fatalf("Expected owner 1 ordinal 2, got %d (%s)", ord, second)
	}

	// Owner 2 starts over at 001 under its own prefix.
	other, err := gen.Generate(ctx, 2, domain.DocTypeQuote)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(other, "BOLT") {
		t.Fatalf("Expected owner 2 prefix BOLT, got %s", other)
	}
	if ord, _ := numbering.ParseOrdinal(other, currentYear()); ord != 1 {
		t.Fatalf("Expected owner 2 ordinal 1, got %d (%s)", ord, other)
	}

	// A different document type for owner 1 also starts at 001.
	inv, err := gen.Generate(ctx, 1, domain.DocTypeInvoice)
	if err != nil {
		t.Fatal(err)
	}
	if ord, _ := numbering.ParseOrdinal(inv, currentYear()); ord != 1 {
		t.Fatalf("Expected invoice ordinal 1, got %d (%s)", ord, inv)
	}
}

func TestGenerate_PrefixFallsBackToTypeDefault(t *testing.T) {
	gen := numbering.NewGenerator(newFakeCounterRepo(), &fakePrefixProvider{
		prefixes: map[int64]string{},
	})

	tests := []struct {
		docType domain.DocType
		prefix  string
	}{
		{domain.DocTypeQuote, "QT"},
		{domain.DocTypeInvoice, "INV"},
		{domain.DocTypeReceipt, "RCT"},
	}

	for _, tt := range tests {
		t.Run(string(tt.docType), func(t *testing.T) {
			number, err := gen.Generate(context.Background(), 7, tt.docType)
			if err != nil {
				t.Fatalf("Generate failed: %v", err)
			}
			if !strings.HasPrefix(number, tt.prefix) {
				t.Fatalf("Expected prefix %s, got %s", tt.prefix, number)
			}
		})
	}
}

func TestGenerate_PrefixProviderErrorFallsBack(t *testing.T) {
	gen := numbering.NewGenerator(newFakeCounterRepo(), &fakePrefixProvider{
		err: fmt.Errorf("settings unavailable"),
	})

	number, err := gen.Generate(context.Background(), 1, domain.DocTypeInvoice)
	if err != nil {
		t.Fatalf("Generate should not fail on prefix lookup error: %v", err)
	}
	if !strings.HasPrefix(number, "INV") {
		t.Fatalf("Expected default INV prefix, got %s", number)
	}
}

func TestGenerate_RejectsUnknownDocType(t *testing.T) {
	gen := numbering.NewGenerator(newFakeCounterRepo(), &fakePrefixProvider{})
	if _, err := gen.Generate(context.Background(), 1, domain.DocType("memo")); err == nil {
		t.Fatal("Expected error for unknown document type")
	}
}

func TestParseOrdinal(t *testing.T) {
	tests := []struct {
		name   string
		number string
		year   int
		want   int64
		ok     bool
	}{
		{"with suffix", "ACME2025-001-xk3p", 2025, 1, true},
		{"without suffix", "INV2025-014", 2025, 14, true},
		{"wrong year", "INV2024-014-ab2c", 2025, 0, false},
		{"garbage", "not-a-number", 2025, 0, false},
		{"missing ordinal", "INV2025-", 2025, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := numbering.ParseOrdinal(tt.number, tt.year)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("ParseOrdinal(%q, %d) = (%d, %v), want (%d, %v)",
					tt.number, tt.year, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestSeedFromNumbers_RaisesCounterToMax(t *testing.T) {
	counters := newFakeCounterRepo()
	gen := numbering.NewGenerator(counters, &fakePrefixProvider{
		prefixes: map[int64]string{1: "ACME"},
	})
	ctx := context.Background()
	year := currentYear()

	existing := []string{
		numbering.Format("ACME", year, 3, "ab2c"),
		numbering.Format("ACME", year, 7, "cd3e"),
		numbering.Format("ACME", year-1, 99, "ef4g"), // previous year ignored
		"garbage",
	}

	if err := gen.SeedFromNumbers(ctx, 1, domain.DocTypeQuote, year, existing); err != nil {
		t.Fatalf("SeedFromNumbers failed: %v", err)
	}

	number, err := gen.Generate(ctx, 1, domain.DocTypeQuote)
	if err != nil {
		t.Fatal(err)
	}
	if ord, _ := numbering.ParseOrdinal(number, year); ord != 8 {
		t.Fatalf("Expected next ordinal 8 after seeding to 7, got %d (%s)", ord, number)
	}
}

func currentYear() int {
	return time.Now().Year()
}
