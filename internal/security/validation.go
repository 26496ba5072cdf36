package security

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Limits applied to tool arguments when the gate is configured with zero.
const (
	DefaultMaxArgsBytes = 1 << 20
	DefaultMaxArgsDepth = 32
)

var (
	ErrArgsTooLarge  = errors.New("tool arguments exceed maximum size")
	ErrArgsTooDeep   = errors.New("tool arguments nest too deeply")
	ErrArgsNotObject = errors.New("tool arguments must be a JSON object")
	ErrInvalidJSON   = errors.New("invalid JSON")
)

// ArgsLimits bounds one tool-argument payload. Zero fields select the
// defaults.
type ArgsLimits struct {
	MaxBytes int
	MaxDepth int
}

func (l ArgsLimits) withDefaults() ArgsLimits {
	if l.MaxBytes <= 0 {
		l.MaxBytes = DefaultMaxArgsBytes
	}
	if l.MaxDepth <= 0 {
		l.MaxDepth = DefaultMaxArgsDepth
	}
	return l
}

// ValidateArgs checks untrusted tool arguments before schema validation:
// the size first, then a single token pass that requires one JSON object
// and bounds its nesting. Empty arguments are accepted and mean {}.
func ValidateArgs(args json.RawMessage, limits ArgsLimits) error {
	limits = limits.withDefaults()
	if len(args) > limits.MaxBytes {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrArgsTooLarge, len(args), limits.MaxBytes)
	}
	if len(bytes.TrimSpace(args)) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(args))
	depth := 0
	for first := true; ; first = false {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if depth > 0 {
					return fmt.Errorf("%w: unexpected end of input", ErrInvalidJSON)
				}
				return nil
			}
			return fmt.Errorf("%w: %w", ErrInvalidJSON, err)
		}
		if first && tok != json.Delim('{') {
			return ErrArgsNotObject
		}
		if !first && depth == 0 {
			return fmt.Errorf("%w: trailing data after the object", ErrInvalidJSON)
		}

		switch tok {
		case json.Delim('{'), json.Delim('['):
			depth++
			if depth > limits.MaxDepth {
				return fmt.Errorf("%w: depth %d (max %d)", ErrArgsTooDeep, depth, limits.MaxDepth)
			}
		case json.Delim('}'), json.Delim(']'):
			depth--
		}
	}
}
