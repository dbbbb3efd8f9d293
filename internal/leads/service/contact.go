package service

import (
	"regexp"
	"strings"
	"unicode"

	"estate_portal_backend/platform/phone"
)

var (
	emailRe = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phoneRe = regexp.MustCompile(`(?:\+\d{1,3}[\s.-]?)?(?:\(?\d{2,4}\)?[\s.-]?)?\d{3}[\s.-]?\d{4}\b`)
	nameRe  = regexp.MustCompile(`(?i)\b(?:my name is|i am|i'm|this is)\s+([a-z][a-z'-]+(?:\s+[a-z][a-z'-]+)?)`)
)

// nameStopWords are words that follow "I'm" without being a name.
var nameStopWords = map[string]struct{}{
	"looking": {}, "interested": {}, "not": {}, "a": {}, "an": {}, "the": {}, "just": {},
	"very": {}, "also": {}, "still": {}, "so": {}, "here": {}, "writing": {}, "asking": {},
	"wondering": {}, "planning": {}, "available": {}, "from": {}, "in": {}, "at": {},
}

// Contact is what could be learned about the sender from a message.
type Contact struct {
	Name  string
	Email string
	Phone string
}

// ExtractContact finds an email address, phone number and self-introduced name in text.
// Only numbers valid for region are kept, normalised to E.164.
func ExtractContact(text, region string) Contact {
	var c Contact
	if m := emailRe.FindString(text); m != "" {
		c.Email = strings.ToLower(m)
	}
	withoutEmail := emailRe.ReplaceAllString(text, " ")
	for _, m := range phoneRe.FindAllString(withoutEmail, -1) {
		if phone.IsValid(m, region) {
			c.Phone = phone.NormalizeE164(m, region)
			break
		}
	}
	c.Name = extractName(text)
	return c
}

func extractName(text string) string {
	m := nameRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	words := strings.Fields(m[1])
	kept := make([]string, 0, len(words))
	for i, w := range words {
		if _, stop := nameStopWords[strings.ToLower(w)]; stop {
			break
		}
		// a lowercase second word is usually the rest of the sentence
		if i > 0 && !unicode.IsUpper(rune(w[0])) {
			break
		}
		kept = append(kept, titleWord(w))
	}
	return strings.Join(kept, " ")
}

func titleWord(w string) string {
	if w == "" {
		return w
	}
	return strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
}
