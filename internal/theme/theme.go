// Package theme carries the light/dark preference as an explicit value that
// is loaded from storage once and written back whenever it changes.
package theme

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

type Theme string

const (
	Light Theme = "light"
	Dark  Theme = "dark"

	Default = Light
)

func Parse(s string) (Theme, bool) {
	switch Theme(strings.ToLower(strings.TrimSpace(s))) {
	case Light:
		return Light, true
	case Dark:
		return Dark, true
	}
	return Default, false
}

func (t Theme) Opposite() Theme {
	if t == Dark {
		return Light
	}
	return Dark
}

// GlamourStyle names the glamour standard style matching the theme.
func (t Theme) GlamourStyle() string {
	return string(t)
}

// Palette is the set of glyphs renderers use for a theme.
type Palette struct {
	Toggle     string
	Assistant  string
	Done       string
	InProgress string
	Bullet     string
	Highlight  string
}

var palettes = map[Theme]Palette{
	Light: {Toggle: "🌙", Assistant: "✨", Done: "✅", InProgress: "⏳", Bullet: "▫️", Highlight: "⭐"},
	Dark:  {Toggle: "☀️", Assistant: "🌌", Done: "✔️", InProgress: "⌛", Bullet: "▪️", Highlight: "🌟"},
}

func (t Theme) Palette() Palette {
	if p, ok := palettes[t]; ok {
		return p
	}
	return palettes[Default]
}

// Store persists the theme per user.
type Store interface {
	LoadTheme(ctx context.Context, userID int64) (string, error)
	SaveTheme(ctx context.Context, userID int64, theme string) error
}

// Context is one user's theme state.
type Context struct {
	mu      sync.RWMutex
	current Theme
	userID  int64
	store   Store
	logger  *zap.Logger
}

// Load reads the stored theme for userID. A missing, unknown or unreadable
// value falls back to the default theme.
func Load(ctx context.Context, store Store, userID int64, logger *zap.Logger) *Context {
	c := &Context{current: Default, userID: userID, store: store, logger: logger}
	if store == nil {
		return c
	}

	raw, err := store.LoadTheme(ctx, userID)
	if err != nil {
		logger.Warn("Failed to load theme preference",
			zap.Error(err),
			zap.Int64("user_id", userID))
		return c
	}
	if t, ok := Parse(raw); ok {
		c.current = t
	}
	return c
}

func (c *Context) Theme() Theme {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

func (c *Context) Palette() Palette {
	return c.Theme().Palette()
}

// Set changes the theme and persists it. The in-memory value is only
// updated once the store accepted it.
func (c *Context) Set(ctx context.Context, t Theme) error {
	if _, ok := Parse(string(t)); !ok {
		return fmt.Errorf("unknown theme %q", t)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == t {
		return nil
	}
	if c.store != nil {
		if err := c.store.SaveTheme(ctx, c.userID, string(t)); err != nil {
			return fmt.Errorf("failed to save theme: %w", err)
		}
	}
	c.current = t
	return nil
}

func (c *Context) Toggle(ctx context.Context) (Theme, error) {
	next := c.Theme().Opposite()
	if err := c.Set(ctx, next); err != nil {
		return c.Theme(), err
	}
	return next, nil
}
