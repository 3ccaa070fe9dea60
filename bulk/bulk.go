package bulk

import (
	"errors"

	"smsrelay/crypto"
)

// ErrAlreadyRunning is returned when a second bulk phase of the same direction starts
// while one is active.
var ErrAlreadyRunning = errors.New("bulk: sync already running")

// Keys supplies the account codec.
type Keys interface {
	Codec() (*crypto.Codec, error)
}

// EntityReport counts one entity type of a bulk phase.
type EntityReport struct {
	Records int
	// Pages is the number of relay calls issued; Failed counts the unsuccessful ones.
	Pages  int
	Failed int
	// Skipped counts records that could not be encoded or decoded.
	Skipped int
}
