package types

import "github.com/m-mizutani/goerr/v2"

// Importance is the manually set retrieval weight of a memory
type Importance int

const (
	MinImportance Importance = 0
	MaxImportance Importance = 10
)

// Validate checks that i is within [MinImportance, MaxImportance]
func (i Importance) Validate() error {
	if i < MinImportance || i > MaxImportance {
		return goerr.New("importance must be between 0 and 10", goerr.V("importance", int(i)))
	}
	return nil
}

// Clamp returns i limited to [MinImportance, MaxImportance]
func (i Importance) Clamp() Importance {
	switch {
	case i < MinImportance:
		return MinImportance
	case i > MaxImportance:
		return MaxImportance
	default:
		return i
	}
}

// Int returns i as int
func (i Importance) Int() int {
	return int(i)
}
