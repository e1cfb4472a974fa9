package core

import "fmt"

// DefaultTheme is used for new documents and for unknown keys.
const DefaultTheme = "emerald"

// Theme is a presentation palette. The ledger only stores its key.
type Theme struct {
	Key    string
	Name   string
	Accent string
}

var themes = []Theme{
	{Key: "emerald", Name: "Emerald", Accent: "#10b981"},
	{Key: "midnight", Name: "Midnight", Accent: "#6366f1"},
	{Key: "sunset", Name: "Sunset", Accent: "#f97316"},
	{Key: "minimal", Name: "Minimal", Accent: "#71717a"},
}

// Themes returns the known themes in display order.
func Themes() []Theme {
	return append([]Theme(nil), themes...)
}

// LookupTheme finds a theme by key.
func LookupTheme(key string) (Theme, bool) {
	for _, t := range themes {
		if t.Key == key {
			return t, true
		}
	}
	return Theme{}, false
}

// ResolveTheme never fails: unknown keys render with the default theme.
func ResolveTheme(key string) Theme {
	if t, ok := LookupTheme(key); ok {
		return t
	}
	t, _ := LookupTheme(DefaultTheme)
	return t
}

// ValidateTheme rejects keys outside the known set.
func ValidateTheme(key string) error {
	if _, ok := LookupTheme(key); !ok {
		return invalid("themeKey", fmt.Errorf("%w: %q", ErrUnknownTheme, key))
	}
	return nil
}

// SetTheme stores a known theme key.
func (d *Document) SetTheme(key string) error {
	if err := ValidateTheme(key); err != nil {
		return err
	}
	d.ThemeKey = key
	return nil
}
