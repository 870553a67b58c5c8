package store

import "errors"

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateCallID is returned by Record when the call id already exists.
// This is a provider or programming anomaly; callers log and ignore the call.
var ErrDuplicateCallID = errors.New("tool call id already recorded")

// ErrFinalized is returned when writing content to a message that already
// reached a terminal status.
var ErrFinalized = errors.New("message already finalized")
