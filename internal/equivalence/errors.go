package equivalence

import "errors"

var (
	// ErrUnsupportedInstrument is returned when the instrument kind has no
	// defined equivalence formula. The caller must never receive a guessed
	// value for these: under- or over-reporting aid has legal consequences.
	ErrUnsupportedInstrument = errors.New("instrument has no defined equivalence formula")

	// ErrDataUnavailable is returned when a required regulatory parameter
	// (reference rate, safe-harbour premium, ceiling, cumulative aid) could
	// not be retrieved for the requested date, rating or year.
	ErrDataUnavailable = errors.New("required regulatory data unavailable")

	// ErrInvalidRequest is returned for malformed input: negative amounts,
	// zero dates, missing instrument fields.
	ErrInvalidRequest = errors.New("invalid equivalence request")
)
