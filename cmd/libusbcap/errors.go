package main

import "github.com/pkg/errors"

var errOutOfMemory = errors.New("malloc returned NULL")
