package httpworker

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/book-expert/murmur-tts/internal/core"
)

var (
	errRagged     = errors.New("ragged array")
	errNotNumeric = errors.New("non-numeric element")
)

// decodeTensor reads a JSON number or an arbitrarily nested rectangular array
// of numbers into a row-major tensor.
func decodeTensor(raw json.RawMessage) (core.Tensor, error) {
	var value any

	err := json.Unmarshal(raw, &value)
	if err != nil {
		return core.Tensor{}, fmt.Errorf("decoding samples: %w", err)
	}

	shape, err := measure(value)
	if err != nil {
		return core.Tensor{}, err
	}

	size := 1
	for _, dim := range shape {
		size *= dim
	}

	data := make([]float32, 0, size)

	err = flatten(value, shape, &data)
	if err != nil {
		return core.Tensor{}, err
	}

	return core.Tensor{Shape: shape, Data: data}, nil
}

// measure follows the first element at every depth to find the shape.
func measure(value any) ([]int, error) {
	shape := []int{}

	for {
		switch typed := value.(type) {
		case float64:
			return shape, nil
		case []any:
			shape = append(shape, len(typed))
			if len(typed) == 0 {
				return shape, nil
			}

			value = typed[0]
		default:
			return nil, fmt.Errorf("%w: %T", errNotNumeric, value)
		}
	}
}

func flatten(value any, shape []int, out *[]float32) error {
	if len(shape) == 0 {
		number, ok := value.(float64)
		if !ok {
			return fmt.Errorf("%w: %T", errNotNumeric, value)
		}

		*out = append(*out, float32(number))

		return nil
	}

	items, ok := value.([]any)
	if !ok || len(items) != shape[0] {
		return fmt.Errorf("%w: expected %d elements", errRagged, shape[0])
	}

	for _, item := range items {
		err := flatten(item, shape[1:], out)
		if err != nil {
			return err
		}
	}

	return nil
}
