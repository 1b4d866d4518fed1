package badger

import "errors"

// ErrDirRequired is returned when a persistent store is opened without a directory.
var ErrDirRequired = errors.New("badger: directory is required unless running in memory")
