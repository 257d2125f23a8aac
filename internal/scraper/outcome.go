package scraper

import "fmt"

// Reason explains why an extraction step produced nothing.
type Reason string

const (
	ReasonNavigationFailed     Reason = "navigation_failed"
	ReasonChainExhausted       Reason = "chain_exhausted"
	ReasonNoLink               Reason = "no_link"
	ReasonUnparseableID        Reason = "unparseable_id"
	ReasonDetailChainExhausted Reason = "detail_chain_exhausted"
)

// Err maps the reason onto the error taxonomy so callers can use errors.Is.
func (r Reason) Err() error {
	switch r {
	case ReasonNavigationFailed:
		return fmt.Errorf("%s: %w", r, ErrNavigation)
	case ReasonChainExhausted, ReasonDetailChainExhausted, ReasonNoLink:
		return fmt.Errorf("%s: %w", r, ErrSelectorExhausted)
	case ReasonUnparseableID:
		return fmt.Errorf("%s: %w", r, ErrParse)
	default:
		return fmt.Errorf("extraction failed: %s", string(r))
	}
}

// Outcome is the result of every extraction boundary: either a value was
// found, or it was not and Reason says why.
type Outcome[T any] struct {
	value  T
	found  bool
	reason Reason
}

func Found[T any](v T) Outcome[T] {
	return Outcome[T]{value: v, found: true}
}

func NotFound[T any](reason Reason) Outcome[T] {
	return Outcome[T]{reason: reason}
}

// Get returns the value and whether it was found.
func (o Outcome[T]) Get() (T, bool) {
	return o.value, o.found
}

func (o Outcome[T]) IsFound() bool {
	return o.found
}

// Reason is empty for found outcomes.
func (o Outcome[T]) Reason() Reason {
	return o.reason
}

// Err is nil for found outcomes.
func (o Outcome[T]) Err() error {
	if o.found {
		return nil
	}
	return o.reason.Err()
}

func (o Outcome[T]) String() string {
	if o.found {
		return fmt.Sprintf("Found(%v)", o.value)
	}
	return fmt.Sprintf("NotFound(%s)", o.reason)
}
