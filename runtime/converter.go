package runtime

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// mapToStruct decodes a map[string]any into a typed struct using json tags.
// WeaklyTypedInput lets the YAML decoder's int/float ambiguity through.
func mapToStruct(m map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(m); err != nil {
		return fmt.Errorf("failed to decode map to struct: %w", err)
	}

	return nil
}
