package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadDir compiles every .rego file in dir into the guard. A missing
// directory is not an error; the guard stays permissive.
func (g *Guard) LoadDir(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read policy directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".rego") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		code, err := os.ReadFile(path) // #nosec G304 -- operator-supplied policy dir
		if err != nil {
			return fmt.Errorf("read policy %s: %w", path, err)
		}
		name := strings.TrimSuffix(entry.Name(), ".rego")
		if err := g.LoadPolicy(ctx, name, string(code)); err != nil {
			return err
		}
	}
	return nil
}
