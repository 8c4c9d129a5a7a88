// Package format
// Created by RTT.
// Author: teocci@yandex.com on 2021-Oct-29
package format

import (
	"github.com/teocci/go-trim-av/av/avutil"
	"github.com/teocci/go-trim-av/format/mkv"
	"github.com/teocci/go-trim-av/format/mp4"
	"github.com/teocci/go-trim-av/format/ts"
)

func RegisterAll() {
	avutil.DefaultHandlers.Add(mp4.Handler)
	avutil.DefaultHandlers.Add(ts.Handler)
	avutil.DefaultHandlers.Add(mkv.Handler)
}
