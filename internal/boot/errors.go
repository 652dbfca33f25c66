package boot

import "errors"

// Boot sequence errors wrap this sentinel.
var ErrBoot = errors.New("boot error")
