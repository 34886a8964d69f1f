package lexicon

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"

	"github.com/pitabwire/lexicon/cache"
	"github.com/pitabwire/lexicon/convert"
	"github.com/pitabwire/lexicon/culture"
	"github.com/pitabwire/lexicon/engine"
	"github.com/pitabwire/lexicon/telemetry"
)

// Request describes one value lookup.
type Request struct {
	// Key is a composite key, possibly empty or without an identifier.
	Key    string
	Target engine.Target

	// Culture is the culture name used when ForceCulture is set; empty means invariant.
	// Otherwise the culture comes from the context and then from the service.
	Culture      string
	ForceCulture bool

	// Parameter is handed to the converter. Results converted with a parameter are not cached.
	Parameter any
	// Converter overrides the service converter for this request.
	Converter convert.Converter
}

func (s *Service) cultureFor(ctx context.Context, req Request) (language.Tag, error) {
	if req.ForceCulture {
		return culture.Parse(req.Culture)
	}
	return culture.Preferred(ctx, s.Culture()), nil
}

// Resolve looks up req and converts the result to typ. Absence is reported as found == false
// with a nil error. A nil typ returns the raw bundle value.
func (s *Service) Resolve(ctx context.Context, req Request, typ reflect.Type) (value any, found bool, err error) {
	tag, err := s.cultureFor(ctx, req)
	if err != nil {
		return nil, false, err
	}

	ctx, span := s.tracer.Start(ctx, "Resolve",
		trace.WithAttributes(telemetry.AttrCultureKey.String(culture.Name(tag))))
	defer func() { s.tracer.End(ctx, span, err) }()

	conv := req.Converter
	if conv == nil {
		conv = s.converter
	}
	cacheable := req.Parameter == nil && convert.IsDefault(conv)

	for _, c := range s.engine.Candidates(req.Key, req.Target) {
		scope, namespace, bErr := s.engine.Bundle(ctx, c, req.Target)
		if bErr != nil {
			return nil, false, bErr
		}
		if scope == "" || namespace == "" {
			continue
		}

		ck := cache.NewKey(tag, typ, engine.Qualified(c, scope, namespace))
		if cacheable {
			if v, ok := s.cache.Get(ctx, ck); ok {
				return v, true, nil
			}
		}

		epoch := s.cache.Epoch()
		res, ok, lErr := s.engine.Read(ctx, scope, namespace, c, tag)
		if lErr != nil {
			return nil, false, lErr
		}
		if !ok {
			continue
		}

		converted, cErr := conv.Convert(res.Value, typ, req.Parameter, tag)
		if cErr != nil {
			if !errors.Is(cErr, convert.ErrConversion) {
				cErr = fmt.Errorf("%w: %w", convert.ErrConversion, cErr)
			}
			return nil, false, fmt.Errorf("resolving %s: %w", ck, cErr)
		}

		if cacheable {
			s.cache.PutIfCurrent(ck, converted, epoch)
		}
		return converted, true, nil
	}

	return nil, false, nil
}

// Resolve is the typed form of Service.Resolve.
func Resolve[T any](ctx context.Context, s *Service, req Request) (T, bool, error) {
	var zero T

	v, found, err := s.Resolve(ctx, req, reflect.TypeFor[T]())
	if err != nil || !found {
		return zero, found, err
	}
	if v == nil {
		return zero, true, nil
	}

	typed, ok := v.(T)
	if !ok {
		return zero, false, fmt.Errorf("%w: %T to %T", convert.ErrConversion, v, zero)
	}
	return typed, true, nil
}

// Text resolves key as a string, expanding params when given. Missing keys come back as the key
// itself so callers always have something to display.
func (s *Service) Text(ctx context.Context, key string, params any) (string, error) {
	text, found, err := Resolve[string](ctx, s, Request{Key: key, Parameter: params})
	if err != nil {
		return "", err
	}
	if !found {
		return key, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	return text, nil
}
