package rights

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/platinummonkey/gatekeeper/pkg/accesserr"
)

// Wildcard is the action segment that matches every key in a domain
const Wildcard = "*"

var segmentPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Key is a validated access right key of the form domain:resource:action
// (or the short form domain:action). The wildcard form is domain:*.
type Key string

// ParseKey validates and normalizes an access right key
func ParseKey(s string) (Key, error) {
	raw := strings.ToLower(strings.TrimSpace(s))
	if raw == "" {
		return "", invalidKey(s, "empty key")
	}

	parts := strings.Split(raw, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return "", invalidKey(s, "expected domain:resource:action")
	}

	for i, part := range parts {
		if part == Wildcard {
			if i != len(parts)-1 || len(parts) != 2 {
				return "", invalidKey(s, "wildcard must be of the form domain:*")
			}
			continue
		}
		if !validSegment(part) {
			return "", invalidKey(s, fmt.Sprintf("invalid segment %q", part))
		}
	}

	return Key(raw), nil
}

// MustParseKey is like ParseKey but panics on invalid input. Intended for
// seeded constants and tests.
func MustParseKey(s string) Key {
	k, err := ParseKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

// ParseKeys parses a list of keys, failing on the first invalid one
func ParseKeys(values []string) ([]Key, error) {
	keys := make([]Key, 0, len(values))
	for _, v := range values {
		k, err := ParseKey(v)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// WildcardFor returns the domain:* pattern for a domain
func WildcardFor(domain string) Key {
	return Key(domain + ":" + Wildcard)
}

// String returns the key as a string
func (k Key) String() string {
	return string(k)
}

// Domain returns the first segment of the key
func (k Key) Domain() string {
	if i := strings.IndexByte(string(k), ':'); i >= 0 {
		return string(k)[:i]
	}
	return string(k)
}

// IsWildcard reports whether the key is a domain:* pattern
func (k Key) IsWildcard() bool {
	return strings.HasSuffix(string(k), ":"+Wildcard)
}

// Covers reports whether k grants other by pattern alone. Catalog rules
// such as non-wildcardable rights are applied by Catalog.ExpandWildcard.
func (k Key) Covers(other Key) bool {
	if k == other {
		return true
	}
	return k.IsWildcard() && !other.IsWildcard() && other.Domain() == k.Domain()
}

func validSegment(s string) bool {
	return segmentPattern.MatchString(s)
}

func invalidKey(raw, detail string) error {
	return accesserr.New(accesserr.ErrUnknownAccessRight, "rights.ParseKey").
		WithRight(raw).
		WithDetail("%s", detail)
}
