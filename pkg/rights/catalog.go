package rights

import (
	"fmt"
	"sort"

	"github.com/platinummonkey/gatekeeper/pkg/accesserr"
)

// SensitiveThreshold is the sensitivity level at which a right is considered sensitive
const SensitiveThreshold = 1

// AccessRight is an atomic permission seeded into the catalog
type AccessRight struct {
	Key              Key    `json:"key" yaml:"key"`
	Domain           string `json:"domain" yaml:"domain"`
	SensitivityLevel int    `json:"sensitivity_level" yaml:"sensitivity_level"`
	IsWildcardable   bool   `json:"is_wildcardable" yaml:"is_wildcardable"`
	Description      string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Catalog is an immutable registry of access rights
type Catalog struct {
	rights   map[Key]AccessRight
	byDomain map[string][]Key
	keys     []Key
}

// NewCatalog builds a catalog from seeded rights
func NewCatalog(seed []AccessRight) (*Catalog, error) {
	c := &Catalog{
		rights:   make(map[Key]AccessRight, len(seed)),
		byDomain: make(map[string][]Key),
	}

	for _, r := range seed {
		key, err := ParseKey(string(r.Key))
		if err != nil {
			return nil, err
		}
		if key.IsWildcard() {
			return nil, invalidSeed(key, "wildcard patterns cannot be seeded")
		}
		if r.Domain == "" {
			r.Domain = key.Domain()
		}
		if r.Domain != key.Domain() {
			return nil, invalidSeed(key, fmt.Sprintf("domain %q does not match key", r.Domain))
		}
		if _, exists := c.rights[key]; exists {
			return nil, invalidSeed(key, "duplicate key")
		}

		r.Key = key
		c.rights[key] = r
		c.byDomain[r.Domain] = append(c.byDomain[r.Domain], key)
		c.keys = append(c.keys, key)
	}

	for _, keys := range c.byDomain {
		SortKeys(keys)
	}
	SortKeys(c.keys)

	return c, nil
}

// Get returns the right registered under key
func (c *Catalog) Get(key Key) (AccessRight, error) {
	r, ok := c.rights[key]
	if !ok {
		return AccessRight{}, accesserr.New(accesserr.ErrUnknownAccessRight, "rights.Get").WithRight(key.String())
	}
	return r, nil
}

// Contains reports whether key is an exact catalog entry
func (c *Catalog) Contains(key Key) bool {
	_, ok := c.rights[key]
	return ok
}

// ExpandWildcard expands a pattern to concrete catalog keys. A domain:*
// pattern yields every wildcardable key in the domain; an exact key
// yields itself when present.
func (c *Catalog) ExpandWildcard(pattern Key) []Key {
	if !pattern.IsWildcard() {
		if c.Contains(pattern) {
			return []Key{pattern}
		}
		return nil
	}

	var out []Key
	for _, key := range c.byDomain[pattern.Domain()] {
		if c.rights[key].IsWildcardable {
			out = append(out, key)
		}
	}
	return out
}

// IsSensitive reports whether key names a sensitive right. Unknown keys
// are not sensitive.
func (c *Catalog) IsSensitive(key Key) bool {
	r, ok := c.rights[key]
	return ok && r.SensitivityLevel >= SensitiveThreshold
}

// Validate checks that every key can be granted by a role
func (c *Catalog) Validate(keys ...Key) error {
	for _, key := range keys {
		if key.IsWildcard() {
			if len(c.byDomain[key.Domain()]) == 0 {
				return accesserr.New(accesserr.ErrUnknownAccessRight, "rights.Validate").
					WithRight(key.String()).
					WithDetail("no catalog keys in domain %q", key.Domain())
			}
			continue
		}
		if !c.Contains(key) {
			return accesserr.New(accesserr.ErrUnknownAccessRight, "rights.Validate").WithRight(key.String())
		}
	}
	return nil
}

// Keys returns every catalog key in sorted order
func (c *Catalog) Keys() []Key {
	out := make([]Key, len(c.keys))
	copy(out, c.keys)
	return out
}

// Domains returns the sorted list of domains
func (c *Catalog) Domains() []string {
	out := make([]string, 0, len(c.byDomain))
	for d := range c.byDomain {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of rights in the catalog
func (c *Catalog) Len() int {
	return len(c.rights)
}

// SortKeys sorts keys in place lexically
func SortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
}

func invalidSeed(key Key, detail string) error {
	return accesserr.New(accesserr.ErrInvalidCatalog, "rights.NewCatalog").
		WithRight(key.String()).
		WithDetail("%s", detail)
}
