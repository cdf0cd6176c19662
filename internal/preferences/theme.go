package preferences

import (
	"context"
	"errors"
	"log/slog"
)

type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

func themeKey(clientID string) string {
	return "theme:" + clientID
}

// Toggle returns the opposite theme.
func (t Theme) Toggle() Theme {
	if t == ThemeDark {
		return ThemeLight
	}
	return ThemeDark
}

// ParseTheme maps anything but "dark" to light.
func ParseTheme(raw string) Theme {
	if raw == string(ThemeDark) {
		return ThemeDark
	}
	return ThemeLight
}

// LoadTheme returns the persisted theme of a client, light when unset or unreadable.
func LoadTheme(ctx context.Context, store Store, clientID string) Theme {
	raw, err := store.Get(ctx, themeKey(clientID))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.Warn("failed to load theme, falling back to light", "client_id", clientID, "error", err)
		}
		return ThemeLight
	}
	return ParseTheme(raw)
}

// ToggleTheme flips and persists the theme of a client.
func ToggleTheme(ctx context.Context, store Store, clientID string) (Theme, error) {
	current := LoadTheme(ctx, store, clientID)
	next := current.Toggle()
	if err := store.Set(ctx, themeKey(clientID), string(next)); err != nil {
		return current, err
	}
	return next, nil
}
