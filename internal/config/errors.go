package config

import "errors"

// ErrNotFound is returned by ResolvePath when no config file exists in
// any search location.
var ErrNotFound = errors.New("config: no configuration file found")
