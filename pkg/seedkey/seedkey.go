// Package seedkey maps a security access seed to the key the ECU expects.
//
// The algorithm is vendor specific and kept out of the diagnostic state
// machine: callers hand a Func to the flasher and can swap it freely.
package seedkey

import (
	"fmt"
	"sort"
	"strings"
)

// Func derives the key for a seed. It must not modify seed.
type Func func(seed []byte) []byte

// Complement inverts every seed byte. It is a placeholder algorithm and is
// its own inverse.
func Complement(seed []byte) []byte {
	key := make([]byte, len(seed))
	for i, b := range seed {
		key[i] = ^b
	}
	return key
}

var algorithms = map[string]Func{
	"complement": Complement,
}

// Register makes an algorithm available to Lookup under name.
func Register(name string, fn Func) error {
	name = strings.ToLower(name)
	if _, found := algorithms[name]; found {
		return fmt.Errorf("seed/key algorithm %q already registered", name)
	}
	algorithms[name] = fn
	return nil
}

// Lookup returns the algorithm registered under name. An empty name selects
// the placeholder.
func Lookup(name string) (Func, error) {
	if name == "" {
		return Complement, nil
	}
	if fn, found := algorithms[strings.ToLower(name)]; found {
		return fn, nil
	}
	return nil, fmt.Errorf("unknown seed/key algorithm %q", name)
}

func Names() []string {
	var out []string
	for name := range algorithms {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
