// Package keys parses and formats the composite resource keys used to address a value:
// [[scope:]namespace:]identifier.
package keys

import "strings"

const (
	// Separator delimits the segments of a composite key.
	Separator = ":"

	maxSegments = 3
)

// CompositeKey addresses a single resource. Scope and Namespace may be empty while their
// defaults are still to be resolved from the ownership chain.
type CompositeKey struct {
	Scope      string
	Namespace  string
	Identifier string
}

// Parse splits raw into its segments, applied right to left. One segment is an identifier,
// two are namespace:identifier and three are scope:namespace:identifier. Empty segments stay
// unset and inputs with more than three segments yield an empty key.
func Parse(raw string) CompositeKey {
	var k CompositeKey

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return k
	}

	parts := strings.Split(raw, Separator)
	switch len(parts) {
	case 1:
		k.Identifier = parts[0]
	case 2:
		k.Namespace = parts[0]
		k.Identifier = parts[1]
	case maxSegments:
		k.Scope = parts[0]
		k.Namespace = parts[1]
		k.Identifier = parts[2]
	}

	return k
}

// Format renders k in the short form Parse accepts. Unset leading segments are omitted,
// except that a scope without a namespace keeps an empty namespace slot ("scope::id").
func Format(k CompositeKey) string {
	out := k.Identifier
	if k.Namespace != "" || k.Scope != "" {
		out = k.Namespace + Separator + out
	}
	if k.Scope != "" {
		out = k.Scope + Separator + out
	}
	return out
}

// String implements fmt.Stringer.
func (k CompositeKey) String() string {
	return Format(k)
}

// IsZero reports whether no segment is set.
func (k CompositeKey) IsZero() bool {
	return k.Scope == "" && k.Namespace == "" && k.Identifier == ""
}

// HasIdentifier reports whether an explicit identifier was supplied.
func (k CompositeKey) HasIdentifier() bool {
	return k.Identifier != ""
}

// WithIdentifier returns a copy of k addressing id instead.
func (k CompositeKey) WithIdentifier(id string) CompositeKey {
	k.Identifier = id
	return k
}

// BundleName is the registry key of the bundle k lives in.
func (k CompositeKey) BundleName() string {
	return BundleName(k.Scope, k.Namespace)
}

// BundleName joins scope and namespace the way bundle handles are keyed.
func BundleName(scope, namespace string) string {
	return scope + "." + namespace
}

// Identifier returns the trailing identifier of a formatted key.
func Identifier(raw string) string {
	return Parse(raw).Identifier
}
