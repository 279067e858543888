package ytdlp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Downloader fetches a remote video with the yt-dlp binary and moves the
// result into the media directory. Downloads go through a temp directory
// first so a failed run never leaves a partial file behind.
type Downloader struct {
	binary   string
	mediaDir string
}

func New(mediaDir string) *Downloader {
	return &Downloader{
		binary:   "yt-dlp",
		mediaDir: mediaDir,
	}
}

// Download fetches the video and returns the local path of the stored file
// and the title reported by the source site.
func (d *Downloader) Download(ctx context.Context, url string) (string, string, error) {
	tmpDir, err := os.MkdirTemp("", "vidquery-dl-*")
	if err != nil {
		return "", "", fmt.Errorf("create download dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	cmd := exec.CommandContext(ctx, d.binary, d.args(tmpDir, url)...)

	slog.InfoContext(ctx, "downloading video", "url", url)
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return "", "", fmt.Errorf("yt-dlp: %s: %w", strings.TrimSpace(string(ee.Stderr)), err)
		}
		return "", "", fmt.Errorf("yt-dlp: %w", err)
	}

	downloaded, title, err := parseOutput(string(out))
	if err != nil {
		return "", "", err
	}

	if err := os.MkdirAll(d.mediaDir, 0o755); err != nil {
		return "", "", fmt.Errorf("create media dir: %w", err)
	}

	dest := filepath.Join(d.mediaDir, filepath.Base(downloaded))
	if err := moveFile(downloaded, dest); err != nil {
		return "", "", fmt.Errorf("move download into media dir: %w", err)
	}

	slog.InfoContext(ctx, "download complete", "title", title, "path", dest)
	return dest, title, nil
}

// args builds the yt-dlp invocation. Both --print fields are pinned to the
// after_move stage: an unprefixed field prints at the video stage, before the
// download, which would put the title ahead of the filepath on stdout.
func (d *Downloader) args(tmpDir, url string) []string {
	return []string{
		"--no-playlist",
		"-f", "best[ext=mp4]/best",
		"-o", filepath.Join(tmpDir, "%(id)s.%(ext)s"),
		"--no-simulate",
		"--print", "after_move:filepath",
		"--print", "after_move:title",
		url,
	}
}

// parseOutput reads the two --print lines, emitted in request order at the
// after_move stage: the download path first, the title second. Blank lines
// are ignored.
func parseOutput(out string) (path, title string, err error) {
	var lines []string
	for _, l := range strings.Split(out, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) < 2 {
		return "", "", fmt.Errorf("yt-dlp: unexpected output %q", out)
	}
	return lines[0], lines[1], nil
}

func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	// Rename fails across filesystems, fall back to copy.
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return err
	}
	return os.Remove(src)
}
