// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package logging

// RotatingWriterConfig defines rotating log file settings
type RotatingWriterConfig struct {
	// MaxSize is the maximum size in megabytes of a log file before it is
	// rotated.
	MaxSize int `json:"maxSize"`
	// MaxFiles is the maximum number of rotated files to retain.
	MaxFiles int `json:"maxFiles"`
	// MaxAge is the maximum number of days to retain a rotated file.
	MaxAge    int    `json:"maxAge"`
	Directory string `json:"directory"`
	Compress  bool   `json:"compress"`
}

// Config defines the configuration of a logger
type Config struct {
	RotatingWriterConfig
	DisableWriterDisplaying bool   `json:"disableWriterDisplaying"`
	LogLevel                Level  `json:"logLevel"`
	DisplayLevel            Level  `json:"displayLevel"`
	LogFormat               Format `json:"logFormat"`
	MsgPrefix               string `json:"msgPrefix"`
	LoggerName              string `json:"loggerName"`
}
