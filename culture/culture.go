// Package culture handles the locale identifiers that select a bundle partition, and carries the
// cultures requested by a caller through a context.
package culture

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/text/language"
	"google.golang.org/grpc/metadata"
)

// ErrInvalidCulture is returned when a caller explicitly supplies a malformed culture.
var ErrInvalidCulture = errors.New("invalid culture")

// Invariant is the culture-neutral partition every bundle falls back to.
var Invariant = language.Und //nolint:gochecknoglobals // alias of an immutable tag

type contextKey string

func (c contextKey) String() string {
	return "lexicon/culture/" + string(c)
}

const ctxKeyCultures = contextKey("culturesKey")

// Parse validates an explicitly supplied culture name. The empty name is the invariant culture.
func Parse(name string) (language.Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Invariant, nil
	}

	tag, err := language.Parse(name)
	if err != nil {
		return Invariant, fmt.Errorf("%w: %q: %w", ErrInvalidCulture, name, err)
	}
	return tag, nil
}

// Name is the culture name used in cache keys. The invariant culture has an empty name.
func Name(tag language.Tag) string {
	if tag == Invariant {
		return ""
	}
	return tag.String()
}

// Covers reports whether child equals parent or inherits from it, e.g. "fr" covers "fr-FR".
// The invariant culture covers every culture.
func Covers(parent, child language.Tag) bool {
	for t := child; ; t = t.Parent() {
		if t == parent {
			return true
		}
		if t.IsRoot() {
			return parent == Invariant
		}
	}
}

// FromDirName reports whether a directory name denotes a culture-specific partition.
func FromDirName(name string) (language.Tag, bool) {
	if name == "" || strings.ContainsAny(name, " ._") {
		return Invariant, false
	}

	tag, err := language.Parse(name)
	if err != nil || tag == Invariant {
		return Invariant, false
	}
	return tag, true
}

// ToContext adds the requested cultures to the supplied context, most preferred first.
func ToContext(ctx context.Context, cultures []language.Tag) context.Context {
	return context.WithValue(ctx, ctxKeyCultures, cultures)
}

// FromContext extracts the requested cultures from the supplied context if any exist.
func FromContext(ctx context.Context) []language.Tag {
	cultures, ok := ctx.Value(ctxKeyCultures).([]language.Tag)
	if !ok {
		return nil
	}
	return cultures
}

// Preferred returns the most preferred culture carried by ctx, or fallback.
func Preferred(ctx context.Context, fallback language.Tag) language.Tag {
	cultures := FromContext(ctx)
	if len(cultures) == 0 {
		return fallback
	}
	return cultures[0]
}

// ExtractFromHTTPRequest reads the "lang" form value followed by the Accept-Language header.
func ExtractFromHTTPRequest(req *http.Request) []language.Tag {
	var cultures []language.Tag

	if lang := req.FormValue("lang"); lang != "" {
		if tag, err := Parse(lang); err == nil {
			cultures = append(cultures, tag)
		}
	}

	return append(cultures, ExtractFromHTTPHeader(req.Header)...)
}

// ExtractFromHTTPHeader parses the Accept-Language header, ordered by quality.
func ExtractFromHTTPHeader(header http.Header) []language.Tag {
	return parseAcceptLanguage(header.Get("Accept-Language"))
}

// ExtractFromGrpcRequest parses the accept-language entry of the incoming gRPC metadata.
func ExtractFromGrpcRequest(ctx context.Context) []language.Tag {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil
	}

	header := md.Get("accept-language")
	if len(header) == 0 {
		return nil
	}
	return parseAcceptLanguage(header[0])
}

func parseAcceptLanguage(value string) []language.Tag {
	if strings.TrimSpace(value) == "" {
		return nil
	}

	tags, _, err := language.ParseAcceptLanguage(value)
	if err != nil {
		return nil
	}
	return tags
}
