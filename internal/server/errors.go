package server

import "errors"

// Supervision errors wrap this sentinel.
var ErrServer = errors.New("server error")
