package registry

import (
	"fmt"

	"github.com/n9te9/goliteql/schema"
)

// ValidateSDL runs a fetched SDL through an independent schema parser before
// the engine is rebuilt, so a subgraph serving garbage cannot replace a
// working engine.
func ValidateSDL(sdl string) error {
	if _, err := schema.NewParser(schema.NewLexer()).Parse([]byte(sdl)); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
