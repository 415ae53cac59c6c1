// Package glob compiles the path and branch patterns used by workflow filters and
// the lint file selector.
//
// Syntax:
//
//	"*"    any run of characters except '/'
//	"**"   any run of characters including '/'; "**/" also matches nothing
//	"?"    one character except '/'
//	"+"    one or more of the preceding character
//	"[..]" a character class, passed through as written
//
// Every other character matches itself.
package glob

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
)

// Pattern is a compiled glob.
type Pattern struct {
	raw string
	re  *regexp.Regexp
}

var cache sync.Map // string -> *Pattern

// Compile translates a glob into an anchored regular expression.
func Compile(pattern string) (*Pattern, error) {
	if p, ok := cache.Load(pattern); ok {
		return p.(*Pattern), nil
	}
	if pattern == "" {
		return nil, fmt.Errorf("empty pattern")
	}

	rs := []rune(pattern)
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(rs); i++ {
		c := rs[i]
		switch c {
		case '*':
			if i+1 < len(rs) && rs[i+1] == '*' {
				i++
				if i+1 < len(rs) && rs[i+1] == '/' {
					i++
					b.WriteString("(?:.*/)?")
				} else {
					b.WriteString(".*")
				}
				continue
			}
			b.WriteString("[^/]*")
		case '?':
			b.WriteString("[^/]")
		case '+':
			b.WriteString("+")
		case '[':
			end := slices.Index(rs[i+1:], ']')
			if end < 0 {
				return nil, fmt.Errorf("unterminated character class in %q", pattern)
			}
			b.WriteString(string(rs[i : i+end+2]))
			i += end + 1
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", pattern, err)
	}
	p := &Pattern{raw: pattern, re: re}
	cache.Store(pattern, p)
	return p, nil
}

// MustCompile is Compile for patterns known at build time.
func MustCompile(pattern string) *Pattern {
	p, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// Match reports whether s matches the pattern.
func (p *Pattern) Match(s string) bool {
	return p.re.MatchString(s)
}

// String returns the pattern as written.
func (p *Pattern) String() string {
	return p.raw
}

// Match compiles pattern and matches s. Invalid patterns never match.
func Match(pattern, s string) bool {
	p, err := Compile(pattern)
	if err != nil {
		return false
	}
	return p.Match(s)
}
