package hotkey

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/MrWong99/talkback/pkg/types"
)

// Key is a named physical key, e.g. "alt_r" or "f9".
type Key string

// keyCodes maps key names to Linux input event codes (linux/input-event-codes.h).
var keyCodes = map[Key]uint16{
	"esc":       1,
	"tab":       15,
	"ctrl":      29,
	"ctrl_l":    29,
	"shift":     42,
	"shift_l":   42,
	"shift_r":   54,
	"alt":       56,
	"alt_l":     56,
	"space":     57,
	"caps_lock": 58,
	"f1":        59,
	"f2":        60,
	"f3":        61,
	"f4":        62,
	"f5":        63,
	"f6":        64,
	"f7":        65,
	"f8":        66,
	"f9":        67,
	"f10":       68,
	"f11":       87,
	"f12":       88,
	"ctrl_r":    97,
	"alt_r":     100,
	"home":      102,
	"end":       107,
	"insert":    110,
	"pause":     119,
	"cmd":       125,
	"cmd_l":     125,
	"super":     125,
	"cmd_r":     126,
	"menu":      139,
}

// ParseKey normalises name and checks that it names a supported key.
func ParseKey(name string) (Key, error) {
	k := Key(strings.ToLower(strings.TrimSpace(name)))
	if k == "" {
		return "", errors.New("key name is empty")
	}
	if _, ok := keyCodes[k]; !ok {
		return "", fmt.Errorf("unknown key %q", name)
	}
	return k, nil
}

// Code returns the input event code of k, or 0 for an unknown key.
func (k Key) Code() uint16 {
	return keyCodes[k]
}

// KnownKeys returns every supported key name in sorted order.
func KnownKeys() []string {
	out := make([]string, 0, len(keyCodes))
	for k := range keyCodes {
		out = append(out, string(k))
	}
	sort.Strings(out)
	return out
}

// Bindings names the keys that drive the machine.
type Bindings struct {
	// Primary is held to record.
	Primary Key
	// Modifier, held together with Primary, selects translate mode. Empty
	// disables translate mode.
	Modifier Key
}

// Validate reports every problem with b as joined [*types.ConfigError]s.
func (b Bindings) Validate() error {
	var errs []error
	primary, err := ParseKey(string(b.Primary))
	if err != nil {
		errs = append(errs, &types.ConfigError{Component: "hotkey", Field: "primary", Err: err})
	}
	if b.Modifier != "" {
		if mod, err := ParseKey(string(b.Modifier)); err != nil {
			errs = append(errs, &types.ConfigError{Component: "hotkey", Field: "modifier", Err: err})
		} else if mod.Code() == primary.Code() {
			errs = append(errs, &types.ConfigError{Component: "hotkey", Field: "modifier", Err: errors.New("must differ from the primary key")})
		}
	}
	return errors.Join(errs...)
}
