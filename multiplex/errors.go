package multiplex

import "errors"

var ErrBrokenSession = errors.New("broken session")
var ErrBrokenStream = errors.New("broken stream")
var ErrInvalidPeerStreamID = errors.New("invalid peer stream id")
var ErrIDExhausted = errors.New("stream id space exhausted")
var ErrMalformedFrame = errors.New("malformed frame")
var ErrStreamAlreadyExists = errors.New("stream already exists")
var ErrTimeout = errors.New("deadline exceeded")

var errRepeatStreamClosing = errors.New("trying to close a closed stream")
