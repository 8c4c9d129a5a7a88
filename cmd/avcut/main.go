// Package main
// Command avcut extracts a time window from a media container by stream copy:
// no decoding, no re-encoding, output snapped to the nearest preceding key
// frame of the reference video stream.
// Created by RTT.
// Author: teocci@yandex.com on 2021-Oct-29
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/teocci/go-trim-av/av/avcut"
	"github.com/teocci/go-trim-av/config"
	"github.com/teocci/go-trim-av/format"
)

var (
	inputPath  string
	outputPath string
	startMark  string
	endMark    string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "avcut -i input.mp4 -o output.mp4 -s mm:ss -e mm:ss",
	Short: "Trim a time window out of a media file without re-encoding",
	Long: `avcut copies the packets of one time window from a container into a new
file. Video starts at the key frame at or before the window start and all
timestamps are rebased so the output plays from zero. Output format follows
the output file extension (.mp4, .ts, .mkv).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVarP(&inputPath, "input", "i", "", "input container path")
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output container path")
	rootCmd.Flags().StringVarP(&startMark, "start", "s", "00:00", "window start mark, mm:ss")
	rootCmd.Flags().StringVarP(&endMark, "end", "e", "", "window end mark, mm:ss")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.MarkFlagRequired("input")
	rootCmd.MarkFlagRequired("output")
	rootCmd.MarkFlagRequired("end")
}

func run(cmd *cobra.Command, args []string) (err error) {
	logrus.SetLevel(config.GetLogLevel())
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if !config.UseColor() {
		color.NoColor = true
	}

	if inputPath == "" || outputPath == "" {
		return avcut.ErrMissingPath
	}

	var window avcut.Window
	if window.Start, err = avcut.ParseMark(startMark); err != nil {
		return
	}
	if window.End, err = avcut.ParseMark(endMark); err != nil {
		return
	}

	if err = avcut.Cut(inputPath, outputPath, window); err != nil {
		return
	}

	color.Green("Successfully trimmed from %s to %s into %s",
		avcut.FormatMark(window.Start), avcut.FormatMark(window.End), outputPath)
	return
}

func main() {
	format.RegisterAll()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("avcut: %v", err))
		os.Exit(1)
	}
}
