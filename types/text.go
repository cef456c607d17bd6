package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
)

// DefaultLocale is used by Text.String and as the last fallback of Get.
const DefaultLocale = "en"

// Text is a display string keyed by locale ("en", "ar", ...).
type Text map[string]string

// T returns a Text holding s under DefaultLocale.
func T(s string) Text { return Text{DefaultLocale: s} }

// Get returns the translation for locale, falling back to DefaultLocale and
// then to the alphabetically first locale present.
func (t Text) Get(locale string) string {
	if v, ok := t[locale]; ok {
		return v
	}
	if v, ok := t[DefaultLocale]; ok {
		return v
	}
	if len(t) == 0 {
		return ""
	}
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return t[keys[0]]
}

// With returns a copy of t with locale set to s.
func (t Text) With(locale, s string) Text {
	out := make(Text, len(t)+1)
	for k, v := range t {
		out[k] = v
	}
	out[locale] = s
	return out
}

func (t Text) String() string { return t.Get(DefaultLocale) }

// Value implements driver.Valuer, storing the map as a JSON object.
func (t Text) Value() (driver.Value, error) {
	if t == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]string(t))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (t *Text) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*t = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("types: cannot scan %T into Text", src)
	}
	if len(raw) == 0 {
		*t = nil
		return nil
	}
	m := map[string]string{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("types: scan Text: %w", err)
	}
	*t = m
	return nil
}
