package mapsource

import "errors"

var (
	ErrNoDocument = errors.New("crush map document does not exist")
)
