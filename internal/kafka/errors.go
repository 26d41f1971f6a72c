package kafka

import "errors"

var ErrNotQueued = errors.New("event not queued")
