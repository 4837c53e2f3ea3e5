package crushd

import "errors"

var (
	ErrNotReady      = errors.New("no crush map has been loaded yet")
	ErrStaleRevision = errors.New("crush map revision is not newer than the current map")
)
