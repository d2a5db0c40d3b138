package qart

import "errors"

// ErrNotConfigured is returned by NewS3Store when no endpoint or bucket is set.
var ErrNotConfigured = errors.New("artifact storage not configured")
