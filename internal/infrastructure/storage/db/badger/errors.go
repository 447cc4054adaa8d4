package dbbadger

import "errors"

// ErrEmptyHeaders ...
var ErrEmptyHeaders = errors.New("headers must not be empty")
