package provider

import (
	"fmt"
	"time"
)

// FieldType enumerates the value types a configurable field may take.
type FieldType string

// Field types understood by the generic settings UI.
const (
	FieldString FieldType = "string"
	FieldSecret FieldType = "secret"
	FieldNumber FieldType = "number"
	FieldBool   FieldType = "bool"
	FieldSelect FieldType = "select"
)

// FieldSpec declares one configurable field of a provider type or plugin.
// The schema is consumed generically by a settings surface; the core only
// reads and validates against it.
type FieldSpec struct {
	Key         string    `json:"key"`
	Label       string    `json:"label"`
	Type        FieldType `json:"type"`
	Default     any       `json:"default,omitempty"`
	Required    bool      `json:"required"`
	Options     []string  `json:"options,omitempty"` // for FieldSelect
	Description string    `json:"description,omitempty"`
}

// Metadata is the static description of a provider type, registered once.
type Metadata struct {
	ID          string      `json:"id"`
	DisplayName string      `json:"display_name"`
	Kind        Kind        `json:"kind"`
	Fields      []FieldSpec `json:"fields"`
}

// Settings holds the vendor configuration of one instance (endpoint, key,
// model, timeout, extras) keyed by FieldSpec keys.
type Settings map[string]any

// String returns the string value for key, or def when absent or mistyped.
func (s Settings) String(key, def string) string {
	if v, ok := s[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Float returns the numeric value for key, accepting int or float64 encodings.
func (s Settings) Float(key string, def float64) float64 {
	switch v := s[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// Bool returns the boolean value for key, or def when absent or mistyped.
func (s Settings) Bool(key string, def bool) bool {
	if v, ok := s[key].(bool); ok {
		return v
	}
	return def
}

// Duration interprets the value for key as seconds.
func (s Settings) Duration(key string, def time.Duration) time.Duration {
	secs := s.Float(key, -1)
	if secs < 0 {
		return def
	}
	return time.Duration(secs * float64(time.Second))
}

// InstanceConfig is the persisted configuration of one named provider
// instance. The instance manager owns the in-memory copy.
type InstanceConfig struct {
	ID          string   `json:"id"`
	ProviderID  string   `json:"provider_id"`
	DisplayName string   `json:"display_name"`
	Kind        Kind     `json:"kind"`
	Enabled     bool     `json:"enabled"`
	Settings    Settings `json:"settings"`
}

// ValidateSettings checks the given settings against a field schema:
// required fields present, select values within options. Extra keys are
// allowed so vendor-specific extras survive round trips.
func ValidateSettings(settings Settings, fields []FieldSpec) error {
	for _, f := range fields {
		v, ok := settings[f.Key]
		if !ok || v == nil || v == "" {
			if f.Required && f.Default == nil {
				return fmt.Errorf("missing required field %q", f.Key)
			}
			continue
		}
		if f.Type == FieldSelect && len(f.Options) > 0 {
			s, _ := v.(string)
			valid := false
			for _, o := range f.Options {
				if o == s {
					valid = true
					break
				}
			}
			if !valid {
				return fmt.Errorf("field %q: value %q not in %v", f.Key, s, f.Options)
			}
		}
	}
	return nil
}
