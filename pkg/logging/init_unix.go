//go:build !windows
// +build !windows

// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitZerolog initializes the global zerolog logger.
//
// level sets the log level and logFormat selects where the logs go and what
// format is used.
func InitZerolog(level string, logFormat string) (*Logger, error) {
	if !isValidLogFormat(logFormat) {
		msg := fmt.Sprintf("Unknown log format: %q", logFormat)
		err := errors.New(msg)
		return nil, err
	}

	switch logFormat {
	case LogJSON:
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	case LogConsolePretty:
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	case LogJournald:
		// No systemd journal writer is wired in; fall back to stdout so a
		// misconfigured format still produces logs instead of silently
		// discarding them.
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	case LogDiscard:
		log.Logger = zerolog.New(io.Discard)
	default:
		return nil, fmt.Errorf("logFormat %q not known", logFormat)
	}

	err := SetZerologLevel(level)
	if err != nil {
		return nil, err
	}

	return &log.Logger, nil
}
