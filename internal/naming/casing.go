// Package naming holds the string transforms used to derive tool names, tag
// categories and environment variable names.
package naming

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// words splits s into casing words. Braces around path parameters are stripped,
// a boundary is inserted before an uppercase letter that follows a lowercase
// letter or digit, and '-', '_' and whitespace all act as separators.
func words(s string) []string {
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")

	var b strings.Builder
	var prev rune
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) && (unicode.IsLower(prev) || unicode.IsDigit(prev)) {
			b.WriteRune(' ')
		}
		switch {
		case r == '-' || r == '_' || unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
		prev = r
	}
	return strings.Fields(b.String())
}

// KebabCase converts s to lower kebab-case: "getUserPosts" -> "get-user-posts".
func KebabCase(s string) string {
	parts := words(s)
	for i, p := range parts {
		parts[i] = strings.ToLower(p)
	}
	return strings.Join(parts, "-")
}

// TitleCase converts s to PascalCase: "user_id" -> "UserId", "{petId}" -> "PetId".
func TitleCase(s string) string {
	var b strings.Builder
	for _, w := range words(s) {
		b.WriteString(capitalize(strings.ToLower(w)))
	}
	return b.String()
}

// EnvVarName builds an upper snake-case environment variable name from a
// group name and a suffix: ("Pet Store", "API_KEY") -> "PET_STORE_API_KEY".
func EnvVarName(group, suffix string) string {
	group = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, group)

	var parts []string
	for _, w := range words(group) {
		parts = append(parts, strings.ToUpper(w))
	}
	if suffix != "" {
		parts = append(parts, suffix)
	}
	return strings.Join(parts, "_")
}

// SynthesizeOperationID derives a deterministic operation id from an HTTP
// method and a path template when the OpenAPI operation has none.
//
// Static segments contribute their TitleCase form in order. Only the last
// path parameter contributes, as "By"+TitleCase(param), appended after the
// static segments; earlier parameters are dropped. The root path yields
// "<Method>Root".
//
//	SynthesizeOperationID("get", "/users/{userId}/posts") == "GetUsersPostsByUserId"
func SynthesizeOperationID(method, path string) string {
	seed := strings.ToLower(method)
	name := seed

	var lastParam string
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		if isPathParam(seg) {
			lastParam = seg
			continue
		}
		name += TitleCase(seg)
	}
	if lastParam != "" {
		name += "By" + TitleCase(lastParam)
	}
	if name == seed {
		name += "Root"
	}
	return capitalize(name)
}

// SynthesizeOperationIDWithParams is the collision-free variant: every path
// parameter except the last is kept as a "With"+TitleCase(param) infix at the
// position it appears in the path.
func SynthesizeOperationIDWithParams(method, path string) string {
	seed := strings.ToLower(method)
	name := seed

	segs := nonEmpty(strings.Split(path, "/"))
	last := -1
	for i, seg := range segs {
		if isPathParam(seg) {
			last = i
		}
	}
	for i, seg := range segs {
		switch {
		case i == last:
		case isPathParam(seg):
			name += "With" + TitleCase(seg)
		default:
			name += TitleCase(seg)
		}
	}
	if last >= 0 {
		name += "By" + TitleCase(segs[last])
	}
	if name == seed {
		name += "Root"
	}
	return capitalize(name)
}

func isPathParam(seg string) bool {
	return strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}")
}

func nonEmpty(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
