// Package scratch provides per-request temporary directories that never outlive their caller.
package scratch

import (
	"fmt"
	"os"
)

// With creates a fresh directory under the system temp dir, passes it to fn and removes it
// with everything inside once fn returns or panics.
func With[T any](prefix string, fn func(dir string) (T, error)) (result T, err error) {
	dir, err := os.MkdirTemp("", prefix)
	if err != nil {
		return result, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil && err == nil {
			err = fmt.Errorf("remove scratch dir: %w", rmErr)
		}
	}()

	return fn(dir)
}
