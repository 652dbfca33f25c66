package schema

import "errors"

// Migration errors wrap this sentinel.
var ErrSchema = errors.New("schema error")
