// Package settings resolves operator-managed configuration values such as the
// meter cutoff day.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/wattshare/wattshare/internal/billing"
)

// KeyMeterCutoffDay is the day of month meters are read.
const KeyMeterCutoffDay = "billing.meter_cutoff_day"

// ErrNotConfigured indicates the key has no value.
var ErrNotConfigured = errors.New("settings: not configured")

// Provider resolves a single setting value.
type Provider interface {
	Get(ctx context.Context, key string) (string, error)
}

// Int resolves key and parses it as an integer.
func Int(ctx context.Context, p Provider, key string) (int, error) {
	if p == nil {
		return 0, ErrNotConfigured
	}
	raw, err := p.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("settings: %s is not an integer: %q", key, raw)
	}
	return v, nil
}

// CutoffDay resolves the meter cutoff day, falling back to fallback when the
// key has no value. Configured values outside 1..31 are rejected.
func CutoffDay(ctx context.Context, p Provider, fallback int) (int, error) {
	day, err := Int(ctx, p, KeyMeterCutoffDay)
	if errors.Is(err, ErrNotConfigured) {
		return fallback, nil
	}
	if err != nil {
		return 0, err
	}
	if day < 1 || day > 31 {
		return 0, fmt.Errorf("%w: %s out of range: %d", billing.ErrInvalidInput, KeyMeterCutoffDay, day)
	}
	return day, nil
}

// Map is a fixed in-memory provider.
type Map map[string]string

// Get implements Provider.
func (m Map) Get(_ context.Context, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", ErrNotConfigured
	}
	return v, nil
}
