package converter

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// lookPath is swapped in tests to simulate hosts without ffmpeg.
var lookPath = exec.LookPath

// ffmpegAvailable checks if ffmpeg is on PATH
func ffmpegAvailable() bool {
	_, err := lookPath("ffmpeg")
	return err == nil
}

// transcodeWithFFmpeg writes input to a temp file, runs ffmpeg with the given
// output arguments and returns the produced bytes.
func transcodeWithFFmpeg(ctx context.Context, input []byte, inExt, outExt string, outArgs ...string) ([]byte, error) {
	dir, err := os.MkdirTemp("", "pixelconvert-*")
	if err != nil {
		return nil, fmt.Errorf("error creating temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "input"+inExt)
	outPath := filepath.Join(dir, "output"+outExt)
	if err := os.WriteFile(inPath, input, 0o600); err != nil {
		return nil, fmt.Errorf("error writing temp input: %w", err)
	}

	args := append([]string{"-hide_banner", "-loglevel", "error", "-i", inPath}, outArgs...)
	args = append(args, "-y", outPath)
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w: %s", err, string(out))
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("error reading ffmpeg output: %w", err)
	}
	return data, nil
}
