package validator

import "github.com/pkg/errors"

// ErrMissingJustification is returned by Observe when a message cites a nil
// justification entry, which can never be resolved. Non-nil justifications
// that are not yet known are observed first rather than rejected.
var ErrMissingJustification = errors.New("message cites a nil justification entry")
