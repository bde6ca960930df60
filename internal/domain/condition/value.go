// internal/domain/condition/value.go
package condition

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Operator is the arithmetic action encoded in a condition value string.
type Operator string

const (
	OpAdd      Operator = "+"
	OpSubtract Operator = "-"
	OpMultiply Operator = "*"
	OpDivide   Operator = "/"
	OpPercent  Operator = "%"
)

var hundred = decimal.NewFromInt(100)

// parseValue splits a raw value string into an operator and a magnitude.
//
// Shapes:
//   - "10%" / "-10%"  -> OpPercent, magnitude stored as a fraction (0.10 / -0.10)
//   - "+25" "-25" "*2" "/2" -> explicit operator, magnitude from the rest
//   - "25"            -> OpAdd (default)
//
// Magnitude must be a finite decimal. "INF", "-INF" and "NAN" are rejected
// as literal strings too (case-insensitive).
func parseValue(raw string) (Operator, decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", decimal.Zero, ErrInvalidValue
	}

	op := OpAdd
	body := s

	if strings.HasSuffix(s, "%") {
		op = OpPercent
		body = strings.TrimSuffix(s, "%")
	} else {
		switch s[0] {
		case '+':
			op = OpAdd
			body = s[1:]
		case '-':
			op = OpSubtract
			body = s[1:]
		case '*':
			op = OpMultiply
			body = s[1:]
		case '/':
			op = OpDivide
			body = s[1:]
		}
	}

	body = strings.TrimSpace(body)
	if body == "" {
		return "", decimal.Zero, ErrInvalidValue
	}

	if !isFiniteLiteral(body) {
		return "", decimal.Zero, ErrInvalidValue
	}

	mag, err := decimal.NewFromString(body)
	if err != nil {
		return "", decimal.Zero, ErrInvalidValue
	}

	if op == OpPercent {
		// "10%" is stored as 0.10 once parsed; a negative percent stays negative.
		mag = mag.Div(hundred)
	}

	return op, mag, nil
}

// isFiniteLiteral rejects the textual infinity/NaN spellings before decimal
// parsing (decimal would reject most of them anyway; the literals are the
// documented contract).
func isFiniteLiteral(body string) bool {
	v := strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(body, "-")))
	v = strings.TrimPrefix(v, "+")
	switch v {
	case "INF", "INFINITY", "NAN":
		return false
	}
	return true
}

// applyValue runs the operator table over a base amount in minor units.
// The result is floored at zero, never negative.
func applyValue(op Operator, mag decimal.Decimal, base int64) int64 {
	b := decimal.NewFromInt(base)

	var out decimal.Decimal
	switch op {
	case OpAdd:
		out = b.Add(mag)
	case OpSubtract:
		out = b.Sub(mag)
	case OpMultiply:
		out = b.Mul(mag.Abs())
	case OpDivide:
		if mag.IsZero() {
			// division by zero is a no-op, not an error
			return base
		}
		out = b.Div(mag.Abs())
	case OpPercent:
		out = b.Add(b.Mul(mag))
	default:
		return base
	}

	v := out.Round(0).IntPart()
	if v < 0 {
		return 0
	}
	return v
}

// percentDelta returns the signed amount a percent condition contributes for
// a given base. Used when percentage stacking is disabled and successive
// percent conditions must keep applying to the original base.
func percentDelta(mag decimal.Decimal, base int64) int64 {
	return decimal.NewFromInt(base).Mul(mag).Round(0).IntPart()
}
