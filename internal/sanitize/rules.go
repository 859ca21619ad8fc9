// Package sanitize redacts sensitive fields from arbitrary log payloads.
//
// Keys are matched case-insensitively against a fixed set of rule families
// (passwords, secrets, tokens, API keys, authorization, cookies, sessions,
// SSNs, card data, PINs, private keys). A matching key has its value replaced
// by Redacted whatever the value's type; everything else is copied through,
// recursing into nested maps, slices, structs and errors.
//
//	safe := sanitize.Value(map[string]any{
//	    "user":     "alice",
//	    "password": "hunter2",
//	})
//	// map[password:[REDACTED] user:alice]
package sanitize

import (
	"regexp"
	"strings"
)

// Redacted replaces the value of every sensitive field.
const Redacted = "[REDACTED]"

// Truncated replaces values nested deeper than MaxDepth.
const Truncated = "[TRUNCATED]"

// MaxDepth bounds recursion. Cyclic input terminates here as well.
const MaxDepth = 32

// rule matches a field name against the lowercased key. Short families also
// carry safe, a list of ordinary words that contain the pattern ("author",
// "shipping", "business"); those words are blanked out before matching.
type rule struct {
	name string
	re   *regexp.Regexp
	safe *regexp.Regexp
}

func (r rule) match(lower string) bool {
	if r.safe != nil {
		lower = r.safe.ReplaceAllString(lower, " ")
	}
	return r.re.MatchString(lower)
}

var rules = []rule{
	{name: "password", re: regexp.MustCompile(`passw(or)?d|passphrase|pwd`)},
	{name: "secret", re: regexp.MustCompile(`secret`)},
	{name: "token", re: regexp.MustCompile(`token`)},
	{name: "api_key", re: regexp.MustCompile(`api[-_ .]?key`)},
	{name: "authorization", re: regexp.MustCompile(`authori[sz]ation|authentication`)},
	{
		name: "auth",
		re:   regexp.MustCompile(`auth`),
		safe: regexp.MustCompile(`author`),
	},
	{name: "cookie", re: regexp.MustCompile(`cookie`)},
	{name: "session", re: regexp.MustCompile(`session`)},
	{
		name: "ssn",
		re:   regexp.MustCompile(`ssn`),
		safe: regexp.MustCompile(`business|address|access|process|success|progress|express|witness|class|glass|cross|boss|less|ness|mass|miss`),
	},
	{name: "social_security", re: regexp.MustCompile(`social[-_ .]?security`)},
	{name: "credit_card", re: regexp.MustCompile(`credit[-_ .]?card|card[-_ .]?(number|num|no)`)},
	{name: "cvv", re: regexp.MustCompile(`cvv|cvc`)},
	{
		name: "pin",
		re:   regexp.MustCompile(`pin`),
		safe: regexp.MustCompile(`ping|spin|opinion|pinion|pinn|pine|pink|pint|pinch|pinyin`),
	},
	{name: "private_key", re: regexp.MustCompile(`private[-_ .]?key`)},
}

// IsSensitiveKey reports whether values stored under key must be redacted.
func IsSensitiveKey(key string) bool {
	if key == "" {
		return false
	}
	lower := strings.ToLower(key)
	for _, r := range rules {
		if r.match(lower) {
			return true
		}
	}
	return false
}
