package database

import "errors"

// ErrNotFound is returned by store lookups that match no row. The services
// layer translates it into its own sentinel.
var ErrNotFound = errors.New("record not found")
