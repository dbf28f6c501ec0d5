package hls

import (
	"strconv"
	"strings"
)

// scanAttrs tolerantly parses a comma-separated KEY=VALUE attribute list, the
// form used by EXT-X-DATERANGE and EXT-X-STREAM-INF (spec.md §4.3). VALUE may
// be a double-quoted string (with "\"" escapes), an enum (YES/NO), a number,
// or a hex literal (0x...). Unparseable pairs are skipped, not fatal.
func scanAttrs(s string) (map[string]AttrValue, []string) {
	attrs := make(map[string]AttrValue)
	var order []string

	i, n := 0, len(s)
	for i < n {
		for i < n && (s[i] == ',' || s[i] == ' ') {
			i++
		}
		if i >= n {
			break
		}
		eq := strings.IndexByte(s[i:], '=')
		if eq < 0 {
			break // trailing garbage with no '=' — skip rest
		}
		key := strings.TrimSpace(s[i : i+eq])
		i += eq + 1
		if i >= n {
			break
		}

		var rawVal string
		if s[i] == '"' {
			j := i + 1
			var b strings.Builder
			for j < n {
				if s[j] == '\\' && j+1 < n && s[j+1] == '"' {
					b.WriteByte('"')
					j += 2
					continue
				}
				if s[j] == '"' {
					break
				}
				b.WriteByte(s[j])
				j++
			}
			rawVal = b.String()
			i = j + 1 // skip closing quote
			if key != "" {
				attrs[key] = AttrValue{Kind: AttrString, Str: rawVal}
				order = append(order, key)
			}
			continue
		}

		// unquoted: read until next top-level comma
		j := i
		for j < n && s[j] != ',' {
			j++
		}
		rawVal = strings.TrimSpace(s[i:j])
		i = j

		if key == "" {
			continue
		}
		attrs[key] = classifyBareValue(rawVal)
		order = append(order, key)
	}
	return attrs, order
}

func classifyBareValue(raw string) AttrValue {
	switch raw {
	case "YES", "NO":
		return AttrValue{Kind: AttrEnum, Str: raw}
	}
	if len(raw) > 2 && (raw[0:2] == "0x" || raw[0:2] == "0X") {
		return AttrValue{Kind: AttrHex, Hex: strings.ToLower(raw)}
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return AttrValue{Kind: AttrNumber, Num: f}
	}
	return AttrValue{Kind: AttrString, Str: raw}
}

// renderAttrs renders attributes back to KEY=VALUE form in the given order,
// falling back to map iteration (non-deterministic) only if order is empty.
func renderAttrs(attrs map[string]AttrValue, order []string) string {
	keys := order
	if len(keys) == 0 {
		for k := range attrs {
			keys = append(keys, k)
		}
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v, ok := attrs[k]
		if !ok {
			continue
		}
		parts = append(parts, k+"="+v.String())
	}
	return strings.Join(parts, ",")
}
