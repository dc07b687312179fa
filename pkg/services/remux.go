// Package services provides the background download and remux services.
package services

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"course-portal-go/pkg/config"
	"course-portal-go/pkg/logging"
)

// Remuxer copies MPEG-TS downloads into an MP4 container with ffmpeg.
type Remuxer struct {
	ffmpegPath string
	log        *logging.Logger
}

// NewRemuxer returns a remuxer, or nil when ffmpeg cannot be found.
func NewRemuxer(cfg *config.Config, log *logging.Logger) *Remuxer {
	path, err := exec.LookPath(cfg.FFmpegPath)
	if err != nil {
		log.Warn("ffmpeg not found, mp4 remux disabled", "ffmpeg_path", cfg.FFmpegPath)
		return nil
	}
	return &Remuxer{ffmpegPath: path, log: log.WithComponent("ffmpeg")}
}

// Remux writes dst from src without re-encoding.
func (r *Remuxer) Remux(ctx context.Context, src, dst string) error {
	args := buildRemuxArgs(src, dst)

	r.log.Info("remuxing", "input", src, "output", dst)

	cmd := exec.CommandContext(ctx, r.ffmpegPath, args...)
	cmd.Stderr = &ffmpegLogger{log: r.log, input: src}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg remux %s: %w", src, err)
	}
	return nil
}

func buildRemuxArgs(src, dst string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-y",
		"-i", src,
		"-map", "0",
		"-c", "copy",
		"-bsf:a", "aac_adtstoasc",
		"-movflags", "+faststart",
		dst,
	}
}

// ffmpegLogger captures FFmpeg stderr output for logging.
type ffmpegLogger struct {
	log   *logging.Logger
	input string
}

func (l *ffmpegLogger) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		l.log.Debug("ffmpeg output", "input", l.input, "output", msg)
	}
	return len(p), nil
}
