// Package globalvars implements the global variables pseudo-credential:
// up to ten named JSON values that are merged into workflow items.
package globalvars

import (
	"fmt"
	"maps"
	"strings"

	apperrors "github.com/alexjbarnes/withings-auth/internal/errors"
	"github.com/tidwall/gjson"
	"golang.org/x/text/unicode/norm"
)

const (
	// CredentialName identifies the credential type.
	CredentialName = "globalVariablesApi"

	// Slots is the number of name/value pairs the credential holds.
	Slots = 10

	// DefaultKeyName is the key variables are nested under when they are
	// put in one key.
	DefaultKeyName = "vars"
)

// Data is the raw credential blob, keyed json1Name, json1Value and so on.
type Data map[string]string

// Variables maps a variable name to its decoded JSON value. Values are
// map[string]any, []any, string, float64, bool or nil.
type Variables map[string]any

// NameKey returns the credential field holding the name of slot i (1-based).
func NameKey(i int) string { return fmt.Sprintf("json%dName", i) }

// ValueKey returns the credential field holding the value of slot i.
func ValueKey(i int) string { return fmt.Sprintf("json%dValue", i) }

// Extract decodes every populated slot. Slots with a blank name are
// skipped. Names are trimmed and NFC-normalized, so visually identical
// names collide. An empty value decodes to an empty object.
func Extract(data Data) (Variables, error) {
	vars := make(Variables)

	for i := 1; i <= Slots; i++ {
		name := norm.NFC.String(strings.TrimSpace(data[NameKey(i)]))
		if name == "" {
			continue
		}

		if _, dup := vars[name]; dup {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrDuplicateVariable, name)
		}

		value, err := decodeValue(data[ValueKey(i)])
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", name, err)
		}

		vars[name] = value
	}

	return vars, nil
}

func decodeValue(raw string) (any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}

	if !gjson.Valid(raw) {
		return nil, apperrors.ErrInvalidVariable
	}

	return gjson.Parse(raw).Value(), nil
}

// Options controls how variables are merged into items.
type Options struct {
	// PutAllInOneKey nests all variables under KeyName instead of
	// spreading them over the item's top level.
	PutAllInOneKey bool
	KeyName        string
}

// DefaultOptions nests variables under "vars".
func DefaultOptions() Options {
	return Options{PutAllInOneKey: true, KeyName: DefaultKeyName}
}

// Apply merges vars into a copy of every item. Variables overwrite item
// fields of the same name. With no items a single item holding only the
// variables is returned. The inputs are not modified.
func Apply(items []map[string]any, vars Variables, opts Options) []map[string]any {
	payload := make(map[string]any, len(vars))

	if opts.PutAllInOneKey {
		key := opts.KeyName
		if key == "" {
			key = DefaultKeyName
		}

		payload[key] = maps.Clone(vars)
	} else {
		maps.Copy(payload, vars)
	}

	if len(items) == 0 {
		return []map[string]any{payload}
	}

	out := make([]map[string]any, len(items))

	for i, item := range items {
		merged := make(map[string]any, len(item)+len(payload))
		maps.Copy(merged, item)
		maps.Copy(merged, payload)
		out[i] = merged
	}

	return out
}
