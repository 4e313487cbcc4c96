package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

// GenerateSchema derives a closed object schema from the argument struct T.
// Fields without omitempty are required.
func GenerateSchema[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
	}
	var v T
	s := reflector.Reflect(v)
	s.Version = ""
	return s
}

func newDefinition[T any](name, description string, run func(context.Context, Memory, T) (string, error)) Definition {
	return Definition{
		Name:        name,
		Description: description,
		Schema:      GenerateSchema[T](),
		Handler: func(ctx context.Context, mem Memory, raw string) (string, error) {
			in, err := decodeArguments[T](raw)
			if err != nil {
				return "", err
			}
			return run(ctx, mem, in)
		},
	}
}

// decodeArguments parses a model-supplied payload. Missing fields stay zero-valued;
// malformed JSON gets one repair attempt before it is rejected.
func decodeArguments[T any](raw string) (T, error) {
	var in T
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return in, nil
	}

	if err := json.Unmarshal([]byte(raw), &in); err == nil {
		return in, nil
	}

	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return in, fmt.Errorf("invalid arguments: %w", err)
	}

	var fixed T
	if err := json.Unmarshal([]byte(repaired), &fixed); err != nil {
		return in, fmt.Errorf("invalid arguments: %w", err)
	}
	return fixed, nil
}
