package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every environment override, e.g.
// GATEWAY_REGISTRY_PROBEINTERVALSECONDS.
const EnvPrefix = "GATEWAY"

// EnvVar describes one environment override
type EnvVar struct {
	Key     string
	Kind    string
	Default string
}

// envField is a scalar config field and the variable that overrides it
type envField struct {
	key   string
	value reflect.Value
}

// LoadEnv overrides cfg.Gateway fields from environment variables named
// after their yaml path. Optional sections such as auth are allocated
// only when a variable below them is set.
func LoadEnv(cfg *Config) error {
	allocate := func(key string) bool { return hasEnvVarsWithPrefix(key + "_") }
	for _, f := range envFields(reflect.ValueOf(&cfg.Gateway).Elem(), EnvPrefix, allocate) {
		raw, ok := os.LookupEnv(f.key)
		if !ok || raw == "" {
			continue
		}
		if err := setEnvValue(f.value, raw); err != nil {
			return fmt.Errorf("invalid value for %s: %w", f.key, err)
		}
	}
	return nil
}

// EnvVars lists every override with the value cfg currently holds
func EnvVars(cfg *Config) []EnvVar {
	never := func(string) bool { return false }
	fields := envFields(reflect.ValueOf(&cfg.Gateway).Elem(), EnvPrefix, never)

	vars := make([]EnvVar, 0, len(fields))
	for _, f := range fields {
		vars = append(vars, EnvVar{
			Key:     f.key,
			Kind:    envKind(f.value),
			Default: formatEnvValue(f.value),
		})
	}
	return vars
}

// envFields flattens v into its overridable fields. A nil struct pointer
// is attached to the config when allocate approves its key, otherwise its
// fields are read from a detached zero value.
func envFields(v reflect.Value, prefix string, allocate func(key string) bool) []envField {
	var fields []envField
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		if !field.CanSet() || name == "" || name == "-" {
			continue
		}
		key := prefix + "_" + strings.ToUpper(name)

		switch field.Kind() {
		case reflect.Struct:
			fields = append(fields, envFields(field, key, allocate)...)
		case reflect.Pointer:
			if field.Type().Elem().Kind() != reflect.Struct {
				continue
			}
			if field.IsNil() {
				if !allocate(key) {
					fields = append(fields, envFields(reflect.New(field.Type().Elem()).Elem(), key, allocate)...)
					continue
				}
				field.Set(reflect.New(field.Type().Elem()))
			}
			fields = append(fields, envFields(field.Elem(), key, allocate)...)
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				fields = append(fields, envField{key: key, value: field})
			}
		case reflect.String, reflect.Bool, reflect.Int, reflect.Int64, reflect.Float64:
			fields = append(fields, envField{key: key, value: field})
		}
	}
	return fields
}

func setEnvValue(v reflect.Value, raw string) error {
	switch v.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		v.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		v.SetFloat(f)
	case reflect.Slice:
		parts := strings.Split(raw, ",")
		list := reflect.MakeSlice(v.Type(), len(parts), len(parts))
		for i, part := range parts {
			list.Index(i).SetString(strings.TrimSpace(part))
		}
		v.Set(list)
	}
	return nil
}

func envKind(v reflect.Value) string {
	switch v.Kind() {
	case reflect.Int, reflect.Int64:
		return "int"
	case reflect.Float64:
		return "float"
	case reflect.Slice:
		return "list"
	default:
		return v.Kind().String()
	}
}

func formatEnvValue(v reflect.Value) string {
	if v.Kind() == reflect.Slice {
		items := make([]string, v.Len())
		for i := range items {
			items[i] = v.Index(i).String()
		}
		return strings.Join(items, ",")
	}
	return fmt.Sprint(v.Interface())
}

func hasEnvVarsWithPrefix(prefix string) bool {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, prefix) {
			return true
		}
	}
	return false
}
