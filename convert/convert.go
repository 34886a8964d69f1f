// Package convert turns raw bundle values into the types consumers ask for.
package convert

import (
	"encoding"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"text/template"
	"time"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// ErrConversion is returned when a raw value cannot be converted to the requested type.
var ErrConversion = errors.New("value conversion failed")

// Converter converts a raw bundle value to target. parameter is an optional consumer supplied
// argument and culture is the culture the value was resolved for.
type Converter interface {
	Convert(raw any, target reflect.Type, parameter any, culture language.Tag) (any, error)
}

// ConverterFunc adapts a function to Converter.
type ConverterFunc func(raw any, target reflect.Type, parameter any, culture language.Tag) (any, error)

func (f ConverterFunc) Convert(raw any, target reflect.Type, parameter any, culture language.Tag) (any, error) {
	return f(raw, target, parameter, culture)
}

var (
	textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()
	durationType        = reflect.TypeFor[time.Duration]()
)

// DefaultConverter handles strings, numbers, booleans, durations, text unmarshalers and YAML
// encoded structured values. When a parameter is given, string values are expanded as text
// templates with the parameter as data.
type DefaultConverter struct{}

// Default returns the converter used when none is configured.
func Default() Converter {
	return DefaultConverter{}
}

// IsDefault reports whether c is the default converter. Only its results may be cached, as
// other converters can depend on state outside the raw value.
func IsDefault(c Converter) bool {
	switch c.(type) {
	case DefaultConverter, *DefaultConverter:
		return true
	default:
		return false
	}
}

func (DefaultConverter) Convert(raw any, target reflect.Type, parameter any, _ language.Tag) (any, error) {
	if s, ok := raw.(string); ok && parameter != nil && strings.Contains(s, "{{") {
		expanded, err := expand(s, parameter)
		if err != nil {
			return nil, err
		}
		raw = expanded
	}

	if target == nil {
		return raw, nil
	}
	if raw == nil {
		return reflect.Zero(target).Interface(), nil
	}

	rv := reflect.ValueOf(raw)
	if rv.Type().AssignableTo(target) {
		return raw, nil
	}

	if s, ok := raw.(string); ok {
		return fromString(s, target)
	}

	if target.Kind() == reflect.String {
		return reflect.ValueOf(fmt.Sprint(raw)).Convert(target).Interface(), nil
	}
	if isNumeric(rv.Kind()) && isNumeric(target.Kind()) {
		return convertNumber(rv, target)
	}

	return nil, fmt.Errorf("%w: %T to %s", ErrConversion, raw, target)
}

func expand(s string, parameter any) (string, error) {
	tmpl, err := template.New("value").Option("missingkey=zero").Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: parsing template: %w", ErrConversion, err)
	}

	var b strings.Builder
	if err = tmpl.Execute(&b, parameter); err != nil {
		return "", fmt.Errorf("%w: expanding template: %w", ErrConversion, err)
	}
	return b.String(), nil
}

func fromString(s string, target reflect.Type) (any, error) {
	if target == durationType {
		d, err := time.ParseDuration(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConversion, err)
		}
		return d, nil
	}

	if reflect.PointerTo(target).Implements(textUnmarshalerType) {
		ptr := reflect.New(target)
		if err := ptr.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s)); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConversion, err)
		}
		return ptr.Elem().Interface(), nil
	}

	out := reflect.New(target).Elem()
	var err error

	switch target.Kind() {
	case reflect.String:
		out.SetString(s)
	case reflect.Bool:
		var b bool
		b, err = strconv.ParseBool(strings.TrimSpace(s))
		out.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var i int64
		i, err = strconv.ParseInt(strings.TrimSpace(s), 10, target.Bits())
		out.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		var u uint64
		u, err = strconv.ParseUint(strings.TrimSpace(s), 10, target.Bits())
		out.SetUint(u)
	case reflect.Float32, reflect.Float64:
		var f float64
		f, err = strconv.ParseFloat(strings.TrimSpace(s), target.Bits())
		out.SetFloat(f)
	case reflect.Slice:
		if target.Elem().Kind() == reflect.Uint8 {
			out.SetBytes([]byte(s))
			break
		}
		err = yaml.Unmarshal([]byte(s), out.Addr().Interface())
	case reflect.Map, reflect.Struct, reflect.Array:
		err = yaml.Unmarshal([]byte(s), out.Addr().Interface())
	case reflect.Interface:
		if reflect.TypeFor[string]().Implements(target) {
			return s, nil
		}
		err = fmt.Errorf("string does not implement %s", target)
	default:
		err = fmt.Errorf("unsupported target kind %s", target.Kind())
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %q to %s: %w", ErrConversion, s, target, err)
	}
	return out.Interface(), nil
}

// convertNumber converts between numeric kinds, refusing values the target cannot hold exactly
// in range. Fractional floats are refused for integer targets.
func convertNumber(rv reflect.Value, target reflect.Type) (any, error) {
	out := reflect.New(target).Elem()
	var fits bool

	switch {
	case rv.CanInt():
		i := rv.Int()
		switch {
		case out.CanInt():
			fits = !out.OverflowInt(i)
		case out.CanUint():
			fits = i >= 0 && !out.OverflowUint(uint64(i))
		default:
			fits = !out.OverflowFloat(float64(i))
		}
	case rv.CanUint():
		u := rv.Uint()
		switch {
		case out.CanInt():
			fits = u <= math.MaxInt64 && !out.OverflowInt(int64(u))
		case out.CanUint():
			fits = !out.OverflowUint(u)
		default:
			fits = true
		}
	default:
		f := rv.Float()
		switch {
		case out.CanInt():
			fits = f == math.Trunc(f) && f >= math.MinInt64 && f < -math.MinInt64 && !out.OverflowInt(int64(f))
		case out.CanUint():
			fits = f == math.Trunc(f) && f >= 0 && f < 1<<64 && !out.OverflowUint(uint64(f))
		default:
			fits = !out.OverflowFloat(f)
		}
	}

	if !fits {
		return nil, fmt.Errorf("%w: %v to %s: value out of range", ErrConversion, rv.Interface(), target)
	}
	return rv.Convert(target).Interface(), nil
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}
