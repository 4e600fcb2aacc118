// Package domain holds the value objects shared by every component of the
// trading engine: symbols, quotes, positions, plans, orders and sessions.
package domain

import "strings"

// Symbol is a normalized, uppercase instrument identifier.
type Symbol string

// NewSymbol trims and uppercases raw into a Symbol. It returns an error if
// the result is empty.
func NewSymbol(raw string) (Symbol, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return "", &ValidationError{Field: "symbol", Reason: "must not be empty"}
	}
	return Symbol(s), nil
}

// String implements fmt.Stringer.
func (s Symbol) String() string {
	return string(s)
}
