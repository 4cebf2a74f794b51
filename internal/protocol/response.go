package protocol

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// responseCutset holds the framing and padding bytes stripped from replies.
const responseCutset = " \t\r\n\x00"

// TrimResponse strips surrounding whitespace and line delimiters.
func TrimResponse(raw string) string {
	return strings.Trim(raw, responseCutset)
}

// ParseNumericResponse parses a trimmed reply as a decimal floating point number.
func ParseNumericResponse(raw string) (float64, error) {
	text := TrimResponse(raw)
	if text == "" {
		return 0, fmt.Errorf("%w: %w", ErrInvalidResponse, ErrEmptyResponse)
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: not a number: %q", ErrInvalidResponse, text)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: non-finite value: %q", ErrInvalidResponse, text)
	}
	return v, nil
}

// ParseTextResponse returns the reply with delimiters removed.
func ParseTextResponse(raw string) string {
	return TrimResponse(raw)
}
