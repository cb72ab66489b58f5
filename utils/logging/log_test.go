// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type bufferCloser struct {
	bytes.Buffer
}

func (*bufferCloser) Close() error {
	return nil
}

func TestLog(t *testing.T) {
	log := NewLogger("", NewWrappedCore(Info, Discard, Plain.ConsoleEncoder()))

	recovered := new(bool)
	panicFunc := func() {
		panic("DON'T PANIC!")
	}
	exitFunc := func() {
		*recovered = true
	}
	log.RecoverAndExit(panicFunc, exitFunc)

	require.True(t, *recovered)
}

func TestLogLevels(t *testing.T) {
	require := require.New(t)

	buf := &bufferCloser{}
	log := NewLogger("", NewWrappedCore(Info, buf, JSON.ConsoleEncoder()))

	log.Debug("hidden")
	require.Zero(buf.Len())

	log.Info("shown", zap.Uint64("height", 7))
	require.Contains(buf.String(), `"height":7`)
	require.Contains(buf.String(), `"level":"info"`)

	buf.Reset()
	log.SetLevel(Debug)
	require.True(log.Enabled(Debug))
	log.Debug("now shown")
	require.Contains(buf.String(), "now shown")

	// Fatal must not exit the process.
	buf.Reset()
	log.Fatal("fatal message")
	require.Contains(buf.String(), `"level":"fatal"`)
}

func TestLogWith(t *testing.T) {
	require := require.New(t)

	buf := &bufferCloser{}
	log := NewLogger("", NewWrappedCore(Info, buf, JSON.ConsoleEncoder()))
	child := log.With(zap.String("component", "hasher"))
	child.Info("hello")
	require.Contains(buf.String(), `"component":"hasher"`)
}

func TestLevelMapsToZap(t *testing.T) {
	require := require.New(t)

	require.Less(zapLevel(Debug), zapLevel(Info))
	require.Less(zapLevel(Fatal), zapcore.DPanicLevel)
}
