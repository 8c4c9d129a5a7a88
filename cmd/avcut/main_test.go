// Package main
// Created by RTT.
// Author: teocci@yandex.com on 2021-Oct-29
package main

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetFlags clears the sticky Changed state cobra keeps between Execute calls.
func resetFlags(t *testing.T) {
	t.Helper()
	rootCmd.Flags().VisitAll(func(f *pflag.Flag) {
		f.Changed = false
	})
}

func TestMissingEndFlagNamesTheFlag(t *testing.T) {
	resetFlags(t)
	rootCmd.SetArgs([]string{"-i", "in.mp4", "-o", "out.mp4", "-s", "00:10"})

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"end"`)
}

func TestMissingPathFlagsNameTheFlags(t *testing.T) {
	resetFlags(t)
	rootCmd.SetArgs([]string{"-e", "00:30"})

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"input"`)
	assert.Contains(t, err.Error(), `"output"`)
}
