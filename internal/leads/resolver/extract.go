package resolver

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	propertyPathRe = regexp.MustCompile(`(?i)/property/([^/\s?#]+)/?`)
	urlSegmentRe   = regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?[^/\s]+/([^/\s?#]+)/?`)
	lastSegmentRe  = regexp.MustCompile(`/([^/]+)/?$`)
	referenceRe    = regexp.MustCompile(`(?i)\b(?:mls|ref)[\s:#]*([a-z0-9-]+)\b`)
	priceRe        = regexp.MustCompile(`(?i)\$?(\d[\d,]*(?:\.\d+)?)\s*([km])?\b`)
	cityRe         = regexp.MustCompile(`\b(?:in|at|near|around|downtown|uptown)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)\b`)
	wordRe         = regexp.MustCompile(`[a-z]+`)
	slugRe         = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
)

const (
	maxKeywords      = 5
	maxURLCandidates = 5
	maxPriceDigits   = 10
)

var stopWords = map[string]struct{}{
	"about": {}, "after": {}, "also": {}, "been": {}, "before": {}, "could": {}, "does": {},
	"from": {}, "have": {}, "hello": {}, "here": {}, "interested": {}, "just": {}, "know": {},
	"like": {}, "looking": {}, "more": {}, "please": {}, "property": {}, "that": {}, "thanks": {},
	"there": {}, "they": {}, "this": {}, "want": {}, "what": {}, "when": {}, "where": {},
	"which": {}, "will": {}, "with": {}, "would": {}, "your": {}, "available": {}, "still": {},
}

// Signals are the fuzzy-match hints found in free text.
type Signals struct {
	Price    *int64
	Cities   []string
	Keywords []string
}

// Empty reports whether no signal was found.
func (s Signals) Empty() bool {
	return s.Price == nil && len(s.Cities) == 0 && len(s.Keywords) == 0
}

// ExtractSignals pulls the highest price, city phrases and title keywords out of text.
func ExtractSignals(text string) Signals {
	return Signals{
		Price:    extractPrice(text),
		Cities:   extractCities(text),
		Keywords: extractKeywords(text),
	}
}

// extractPrice returns the largest amount that looks like a price: at least four
// digits, or any number with a k or m suffix.
func extractPrice(text string) *int64 {
	var best *int64
	for _, m := range priceRe.FindAllStringSubmatch(text, -1) {
		digits := strings.ReplaceAll(m[1], ",", "")
		whole := digits
		if i := strings.IndexByte(whole, '.'); i >= 0 {
			whole = whole[:i]
		}
		suffix := strings.ToLower(m[2])
		if suffix == "" && len(whole) < 4 {
			continue
		}
		if len(whole) > maxPriceDigits {
			continue
		}

		value, err := strconv.ParseFloat(digits, 64)
		if err != nil {
			continue
		}
		switch suffix {
		case "k":
			value *= 1_000
		case "m":
			value *= 1_000_000
		}
		amount := int64(value)
		if amount <= 0 {
			continue
		}
		if best == nil || amount > *best {
			best = &amount
		}
	}
	return best
}

func extractCities(text string) []string {
	seen := make(map[string]struct{})
	var cities []string
	for _, m := range cityRe.FindAllStringSubmatch(text, -1) {
		city := m[1]
		key := strings.ToLower(city)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		cities = append(cities, city)
	}
	return cities
}

func extractKeywords(text string) []string {
	seen := make(map[string]struct{})
	var keywords []string
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		if len(w) <= 3 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		keywords = append(keywords, w)
		if len(keywords) == maxKeywords {
			break
		}
	}
	return keywords
}

// extractReference returns the first MLS or ref code that contains a digit.
func extractReference(text string) string {
	for _, m := range referenceRe.FindAllStringSubmatch(text, -1) {
		code := strings.Trim(m[1], "-")
		if strings.ContainsAny(code, "0123456789") {
			return code
		}
	}
	return ""
}

// urlSlugCandidates returns path segments of URL-like tokens that could be slugs.
func urlSlugCandidates(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range urlSegmentRe.FindAllStringSubmatch(text, -1) {
		seg := strings.ToLower(m[1])
		if !slugRe.MatchString(seg) {
			continue
		}
		if _, ok := seen[seg]; ok {
			continue
		}
		seen[seg] = struct{}{}
		out = append(out, seg)
		if len(out) == maxURLCandidates {
			break
		}
	}
	return out
}

// slugFromURL returns the last path segment of raw.
func slugFromURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	m := lastSegmentRe.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}
