// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// TranscodeSession - FFmpeg 转码会话管理工具
//
// Package testsupport provides a scripted stand-in for the ffmpeg binary.

package testsupport

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Analysis is the stderr header the fake binary prints for every input.
const Analysis = `Input #0, avi, from 'testvideo-43.avi':
  Duration: 00:00:02.00, start: 0.000000, bitrate: 1245 kb/s
    Stream #0:0: Video: mpeg4 (Simple Profile) (FMP4 / 0x34504D46), yuv420p, 640x480, 25 fps, 25 tbr, 25 tbn
    Stream #0:1: Audio: mp3 (U[0][0][0] / 0x0055), 48000 Hz, stereo, fltp, 32 kb/s
`

// script understands "-i <input>" and treats the last argument as the output.
// pipe:0 and pipe:1 map to stdin and stdout; every *.jpg argument receives a
// small image. Without an output it fails like ffmpeg does.
const script = `#!/bin/sh
in=""
out=""
prev=""
jpgs=""
for a in "$@"; do
  if [ "$prev" = "-i" ]; then in="$a"; fi
  case "$a" in *.jpg) jpgs="$jpgs $a";; esac
  prev="$a"
  out="$a"
done
cat >&2 <<'EOF'
` + Analysis + `EOF
if [ "$out" = "$in" ]; then
  echo "At least one output file must be specified" >&2
  exit 1
fi
echo "Stream mapping:" >&2
echo "  Stream #0:0 -> #0:0 (mpeg4 (native) -> flv1 (flv))" >&2
printf 'frame=   25 fps=0.0 q=2.0 size=      64kB time=00:00:01.00 bitrate= 524.3kbits/s speed=2x\r' >&2
{{extra}}
if [ "$in" = "pipe:0" ]; then src=-; else src="$in"; fi
if [ -n "$jpgs" ]; then
  cat "$src" > /dev/null
  for j in $jpgs; do printf 'JPEG' > "$j"; done
elif [ "$out" = "pipe:1" ]; then
  cat "$src"
else
  cat "$src" > "$out"
fi
printf 'frame=   50 fps=0.0 q=2.0 Lsize=     128kB time=00:00:02.00 bitrate= 524.3kbits/s speed=2x\n' >&2
exit 0
`

// FakeFFmpeg writes an executable ffmpeg imitation and returns its path.
// extra is inserted after the first progress line, e.g. "sleep 10".
func FakeFFmpeg(t testing.TB, extra string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ffmpeg")
	body := []byte(strings.Replace(script, "{{extra}}", extra, 1))
	if err := os.WriteFile(path, body, 0o755); err != nil {
		t.Fatalf("write fake ffmpeg: %v", err)
	}
	return path
}

// WriteInput creates a source file of size bytes and returns its path.
func WriteInput(t testing.TB, dir string, size int) string {
	t.Helper()

	path := filepath.Join(dir, "testvideo-43.avi")
	data := make([]byte, size)
	for i := range data {
		data[i] = byte('A' + i%26)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return path
}
