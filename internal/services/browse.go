package services

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"services-market-backend/internal/apperr"
	"services-market-backend/internal/models"
	"services-market-backend/internal/repository"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SortKey selects the order within the boosted and the regular partition
type SortKey string

const (
	SortNewest    SortKey = "newest"
	SortOldest    SortKey = "oldest"
	SortTitle     SortKey = "title"
	SortPriceLow  SortKey = "price-low"
	SortPriceHigh SortKey = "price-high"
)

// ParseSortKey maps a query value to a SortKey, newest when empty
func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(s); k {
	case "":
		return SortNewest, nil
	case SortNewest, SortOldest, SortTitle, SortPriceLow, SortPriceHigh:
		return k, nil
	}
	return "", apperr.Validation("browse", "unknown sort key %q", s)
}

// BrowseFilter narrows the public listing view
type BrowseFilter struct {
	Query    string          `json:"q,omitempty"`
	Location string          `json:"location,omitempty"`
	Category models.Category `json:"category,omitempty"`
	Sort     SortKey         `json:"sort,omitempty"`
}

// Browse returns active listings matching f, boosted listings first
func (s *ListingService) Browse(ctx context.Context, f BrowseFilter) ([]*models.Listing, error) {
	if f.Category != "" && !f.Category.Valid() {
		return nil, apperr.Validation("browse", "unknown category %q", f.Category)
	}
	key, err := ParseSortKey(string(f.Sort))
	if err != nil {
		return nil, err
	}

	if _, err := s.SweepExpiredBoosts(ctx, SweepScope{}); err != nil {
		return nil, err
	}
	listings, err := s.listings.List(ctx, repository.ListingQuery{
		Status:   models.StatusActive,
		Category: f.Category,
	})
	if err != nil {
		return nil, err
	}

	term := foldText(f.Query)
	location := foldText(f.Location)
	results := []*models.Listing{}
	for _, l := range listings {
		if !matchesTerm(l, term) {
			continue
		}
		if location != "" && foldText(l.Location) != location {
			continue
		}
		results = append(results, l)
	}
	SortListings(results, key)
	return results, nil
}

// SortListings orders boosted listings before the rest and applies key within
// each partition. The sort is stable.
func SortListings(listings []*models.Listing, key SortKey) {
	col := collate.New(language.Czech, collate.IgnoreCase)
	less := func(a, b *models.Listing) bool {
		switch key {
		case SortOldest:
			return a.CreatedAt.Before(b.CreatedAt)
		case SortTitle:
			return col.CompareString(a.Title, b.Title) < 0
		case SortPriceLow:
			return ExtractPrice(a.Price) < ExtractPrice(b.Price)
		case SortPriceHigh:
			return ExtractPrice(a.Price) > ExtractPrice(b.Price)
		default:
			return a.CreatedAt.After(b.CreatedAt)
		}
	}
	sort.SliceStable(listings, func(i, j int) bool {
		a, b := listings[i], listings[j]
		if a.IsTop != b.IsTop {
			return a.IsTop
		}
		return less(a, b)
	})
}

// ExtractPrice returns the first whole number in a free text price, 0 if none
func ExtractPrice(price string) int64 {
	start := strings.IndexFunc(price, isASCIIDigit)
	if start < 0 {
		return 0
	}
	end := start
	for end < len(price) && isASCIIDigit(rune(price[end])) {
		end++
	}
	n, err := strconv.ParseInt(price[start:end], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// matchesTerm reports whether a folded term occurs within the title, the
// description or the location. An empty term matches everything.
func matchesTerm(l *models.Listing, term string) bool {
	if term == "" {
		return true
	}
	for _, field := range []string{l.Title, l.Description, l.Location} {
		if strings.Contains(foldText(field), term) {
			return true
		}
	}
	return false
}

func isASCIIDigit(r rune) bool { return r >= '0' && r <= '9' }

// foldText lowercases s and strips diacritics so "Plzeň" matches "plzen"
func foldText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}
