package config

// loader.go fills Config from environment variables. Fields are described by
// struct tags:
//
//	env      variable name
//	envAlt   fallback variable name
//	default  value used when neither variable is set
//	required "true" fails the load when neither variable is set
//	unit     "bytes" accepts a KB, MB or GB suffix (powers of 1024)
//	format   "cidr" turns bare IPs of a list into single-host prefixes
//
// Every bad variable is reported in one error, not just the first.

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Load reads configuration from the process environment, applies defaults
// and validates the result.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom is Load with a custom variable lookup, used by tests.
func LoadFrom(getenv func(string) string) (*Config, error) {
	cfg := &Config{}

	if errs := fill(reflect.ValueOf(cfg).Elem(), getenv); len(errs) > 0 {
		return nil, fmt.Errorf("config load: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// fill walks Config's sections. A section holds only tagged leaf fields.
func fill(v reflect.Value, getenv func(string) string) []error {
	var errs []error
	t := v.Type()

	for i := range t.NumField() {
		field, val := t.Field(i), v.Field(i)
		if field.Type.Kind() == reflect.Struct {
			errs = append(errs, fill(val, getenv)...)
			continue
		}

		name := field.Tag.Get("env")
		if name == "" || !val.CanSet() {
			continue
		}

		raw := lookup(getenv, name, field.Tag.Get("envAlt"))
		if raw == "" {
			if field.Tag.Get("required") == "true" {
				errs = append(errs, fmt.Errorf("required environment variable %s is not set", name))
				continue
			}
			raw = field.Tag.Get("default")
		}
		if raw == "" {
			continue
		}

		if err := set(val, field.Tag, raw); err != nil {
			errs = append(errs, fmt.Errorf("invalid value for %s=%q: %w", name, raw, err))
		}
	}
	return errs
}

func lookup(getenv func(string) string, names ...string) string {
	for _, n := range names {
		if n == "" {
			continue
		}
		if v := strings.TrimSpace(getenv(n)); v != "" {
			return v
		}
	}
	return ""
}

func set(val reflect.Value, tag reflect.StructTag, raw string) error {
	switch {
	case val.Type() == durationType:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		if d < 0 {
			return errors.New("duration must not be negative")
		}
		val.SetInt(int64(d))

	case val.Kind() == reflect.Int || val.Kind() == reflect.Int64:
		var n int64
		var err error
		if tag.Get("unit") == "bytes" {
			n, err = parseBytes(raw)
		} else {
			n, err = strconv.ParseInt(raw, 10, 64)
		}
		if err != nil {
			return err
		}
		val.SetInt(n)

	case val.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		val.SetBool(b)

	case val.Kind() == reflect.String:
		val.SetString(raw)

	case val.Kind() == reflect.Slice && val.Type().Elem().Kind() == reflect.String:
		items := splitList(raw)
		if tag.Get("format") == "cidr" {
			for i, item := range items {
				if addr, err := netip.ParseAddr(item); err == nil {
					items[i] = netip.PrefixFrom(addr, addr.BitLen()).String()
				}
			}
		}
		val.Set(reflect.ValueOf(items))

	default:
		return fmt.Errorf("unsupported field type %s", val.Type())
	}
	return nil
}

// splitList splits a comma-separated value, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var byteUnits = []struct {
	suffix string
	size   int64
}{
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// parseBytes reads sizes such as "20MB", "512 KB" or "1048576".
func parseBytes(raw string) (int64, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	mult := int64(1)
	for _, u := range byteUnits {
		if num, ok := strings.CutSuffix(s, u.suffix); ok {
			s, mult = strings.TrimSpace(num), u.size
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", raw)
	}
	if n < 0 {
		return 0, fmt.Errorf("size %q must not be negative", raw)
	}
	return n * mult, nil
}
