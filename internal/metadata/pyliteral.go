package metadata

import (
	"fmt"
	"regexp"
	"strings"

	"boardpm/pkg/pluginapi"
)

var assignPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)[ \t]*=[ \t]*`)

// parseAssignments collects top-level `name = literal` statements where the
// literal is a string or a list/tuple of strings. Anything else is skipped.
// Later assignments win.
func parseAssignments(src string) map[string]any {
	out := map[string]any{}
	depth := 0
	lineStart := true
	for i := 0; i < len(src); {
		if lineStart && depth == 0 {
			if m := assignPattern.FindStringSubmatchIndex(src[i:]); m != nil {
				name := src[i+m[2] : i+m[3]]
				if v, end, ok := parseLiteral(src, i+m[1]); ok && blankToEOL(src, end) {
					out[name] = v
					i = end
					continue
				}
			}
		}
		lineStart = false
		c := src[i]
		switch {
		case c == '#':
			for i < len(src) && src[i] != '\n' {
				i++
			}
			continue
		case c == '\'' || c == '"':
			_, end, _ := scanString(src, i, false)
			i = end
			continue
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			if depth > 0 {
				depth--
			}
		case c == '\\' && i+1 < len(src) && src[i+1] == '\n':
			i += 2
			continue
		case c == '\n':
			lineStart = true
		}
		i++
	}
	return out
}

func parseLiteral(src string, i int) (any, int, bool) {
	i = skipSpaces(src, i)
	if i >= len(src) {
		return nil, i, false
	}
	switch c := src[i]; {
	case c == '\'' || c == '"':
		return scanString(src, i, false)
	case (c == 'r' || c == 'R' || c == 'u' || c == 'U') && i+1 < len(src) && (src[i+1] == '\'' || src[i+1] == '"'):
		return scanString(src, i+1, c == 'r' || c == 'R')
	case c == '[' || c == '(':
		return scanList(src, i)
	}
	return nil, i, false
}

func scanList(src string, i int) (any, int, bool) {
	closer := byte(']')
	if src[i] == '(' {
		closer = ')'
	}
	i++
	items := []string{}
	for {
		i = skipLayout(src, i)
		if i >= len(src) {
			return nil, i, false
		}
		if src[i] == closer {
			return items, i + 1, true
		}
		v, end, ok := parseLiteral(src, i)
		s, isString := v.(string)
		if !ok || !isString {
			return nil, end, false
		}
		items = append(items, s)
		i = skipLayout(src, end)
		if i < len(src) && src[i] == ',' {
			i++
			continue
		}
		if i < len(src) && src[i] == closer {
			return items, i + 1, true
		}
		return nil, i, false
	}
}

// scanString reads a quoted literal starting at the opening quote and
// returns its value and the index just past the closing quote.
func scanString(src string, i int, raw bool) (any, int, bool) {
	quote := src[i]
	delim := string(quote)
	if strings.HasPrefix(src[i:], strings.Repeat(delim, 3)) {
		delim = strings.Repeat(delim, 3)
	}
	i += len(delim)
	var b strings.Builder
	for i < len(src) {
		if strings.HasPrefix(src[i:], delim) {
			return b.String(), i + len(delim), true
		}
		c := src[i]
		if c == '\n' && len(delim) == 1 {
			return nil, i, false
		}
		if c == '\\' && i+1 < len(src) {
			if raw {
				b.WriteByte(c)
				b.WriteByte(src[i+1])
			} else {
				b.WriteString(unescape(src[i+1]))
			}
			i += 2
			continue
		}
		b.WriteByte(c)
		i++
	}
	return nil, i, false
}

func unescape(c byte) string {
	switch c {
	case 'n':
		return "\n"
	case 't':
		return "\t"
	case '\n':
		return ""
	default:
		return string(c)
	}
}

func skipSpaces(src string, i int) int {
	for i < len(src) && (src[i] == ' ' || src[i] == '\t') {
		i++
	}
	return i
}

// skipLayout skips whitespace, newlines and comments inside brackets.
func skipLayout(src string, i int) int {
	for i < len(src) {
		switch src[i] {
		case ' ', '\t', '\r', '\n':
			i++
		case '#':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		default:
			return i
		}
	}
	return i
}

func blankToEOL(src string, i int) bool {
	i = skipSpaces(src, i)
	return i >= len(src) || src[i] == '\n' || src[i] == '\r' || src[i] == '#' || src[i] == ';'
}

// applyAssignments copies recognized names into info and returns warnings
// for recognized names holding the wrong kind of literal.
func applyAssignments(info *pluginapi.Info, vars map[string]any) []string {
	var warnings []string
	str := func(dst *string, names ...string) {
		for _, n := range names {
			v, ok := vars[n]
			if !ok {
				continue
			}
			s, ok := v.(string)
			if !ok {
				warnings = append(warnings, fmt.Sprintf("%s should be a string literal", n))
				continue
			}
			*dst = s
		}
	}
	list := func(dst *[]string, names ...string) {
		for _, n := range names {
			v, ok := vars[n]
			if !ok {
				continue
			}
			l, ok := v.([]string)
			if !ok {
				warnings = append(warnings, fmt.Sprintf("%s should be a list of string literals", n))
				continue
			}
			*dst = l
		}
	}
	str(&info.ID, "plugin_id", "__plugin_id__")
	str(&info.Name, "__board_name__")
	str(&info.Version, "__version__")
	str(&info.Description, "__description__")
	str(&info.Author, "__author__")
	str(&info.MinAppVersion, "__min_app_version__")
	list(&info.PreserveFiles, "preserve_files", "__preserve_files__")
	list(&info.Requirements, "requirements", "__requirements__")
	return warnings
}
