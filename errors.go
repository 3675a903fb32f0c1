package debtcache

import "errors"

var (
	ErrNotFound = errors.New("debtcache: not found")
)
