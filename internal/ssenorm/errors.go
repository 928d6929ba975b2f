package ssenorm

import "errors"

// ErrDone is returned by BlockReader.Next when the terminal
// "data: [DONE]" sentinel frame is read. Callers should stop reading
// further, not treat it as a failure.
var ErrDone = errors.New("ssenorm: done sentinel")
