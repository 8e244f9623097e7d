package api

import "errors"

var ErrUpdateDropped = errors.New("websocket update queue full, update dropped")
