package topology

import (
	"strings"
)

// rootPrefix is the canonical device path prefix. The OS hands out paths
// under any of `\\?\`, `\\.\`, `##?#` or `##.#`; they all address the same
// namespace.
const rootPrefix = `\\.\`

// SanitizePath normalizes a device path so equal devices hash to equal
// session keys: canonical `\\.\` prefix, upper case, and `\` separators
// after the prefix turned into `#`.
func SanitizePath(path string) string {
	if path == "" {
		return ""
	}
	rest := path
	if len(rest) >= 4 {
		switch rest[:4] {
		case `\\?\`, `\\.\`, `##?#`, `##.#`:
			rest = rest[4:]
		}
	}
	var b strings.Builder
	b.Grow(len(rootPrefix) + len(rest))
	b.WriteString(rootPrefix)
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		switch {
		case c == '\\':
			c = '#'
		case 'a' <= c && c <= 'z':
			c -= 'a' - 'A'
		}
		b.WriteByte(c)
	}
	return b.String()
}

// ParseMINumber extracts the logical interface number from the `MI_nn`
// token of a hardware or instance id. Ids without the token (or with a
// garbled number) report interface 0; that is the documented default for
// single-interface functions, not an error.
func ParseMINumber(id string) int {
	up := strings.ToUpper(id)
	i := strings.Index(up, "MI_")
	if i < 0 || i+5 > len(up) {
		return 0
	}
	hi, lo := up[i+3], up[i+4]
	if hi < '0' || hi > '9' || lo < '0' || lo > '9' {
		return 0
	}
	return int(hi-'0')*10 + int(lo-'0')
}

// Placeholder ids used for root hubs whose PCI controller id cannot be
// parsed (the Linux Foundation root hub convention).
const (
	RootHubVendorID  = 0x1D6B
	RootHubProductID = 0x0001
)

// ParsePCIIDs pulls vendor and device ids out of a PCI instance id of the
// form `PCI\VEN_xxxx&DEV_xxxx&...`. ok is false when the id does not parse;
// callers then fall back to the placeholder pair.
func ParsePCIIDs(id string) (vid, pid uint16, ok bool) {
	up := strings.ToUpper(id)
	if !strings.HasPrefix(up, `PCI\VEN_`) {
		return 0, 0, false
	}
	v, ok := parseHex4(up[len(`PCI\VEN_`):])
	if !ok {
		return 0, 0, false
	}
	i := strings.Index(up, "&DEV_")
	if i < 0 {
		return 0, 0, false
	}
	p, ok := parseHex4(up[i+len("&DEV_"):])
	if !ok {
		return 0, 0, false
	}
	return v, p, true
}

func parseHex4(s string) (uint16, bool) {
	if len(s) < 4 {
		return 0, false
	}
	var v uint16
	for i := 0; i < 4; i++ {
		c := s[i]
		switch {
		case '0' <= c && c <= '9':
			v = v<<4 | uint16(c-'0')
		case 'A' <= c && c <= 'F':
			v = v<<4 | uint16(c-'A'+10)
		default:
			return 0, false
		}
	}
	return v, true
}
