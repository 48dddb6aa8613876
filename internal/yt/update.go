package yt

import (
	"context"
	"strings"
	"time"
)

// UpdateYtdlp runs the yt-dlp self updater and returns its report.
func (t *Tools) UpdateYtdlp(ctx context.Context) (string, error) {
	t.log.Info("checking yt-dlp update")
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	out, err := t.runTool(ctx, t.ytdlp, "-U")
	return strings.TrimSpace(string(out)), err
}

// UpdateGallerydl upgrades gallery-dl through apk, the package manager of the
// container image, and reports the resulting version.
func (t *Tools) UpdateGallerydl(ctx context.Context) (string, error) {
	t.log.Info("checking gallery-dl update")
	ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	var report strings.Builder
	var firstErr error
	step := func(title, bin string, args ...string) {
		out, err := t.runTool(ctx, bin, args...)
		report.WriteString(title + ":\n" + strings.TrimSpace(string(out)) + "\n")
		if err != nil {
			report.WriteString("error: " + err.Error() + "\n")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	step("apk update", "apk", "update")
	if firstErr == nil {
		step("apk upgrade gallery-dl", "apk", "upgrade", "gallery-dl")
	}
	step("gallery-dl version", t.gallerydl, "--version")
	return strings.TrimSpace(report.String()), firstErr
}

func (t *Tools) Versions(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	versions := make(map[string]string, 2)
	for name, bin := range map[string]string{"yt-dlp": t.ytdlp, "gallery-dl": t.gallerydl} {
		out, err := t.runTool(ctx, bin, "--version")
		if err != nil {
			versions[name] = "unavailable"
			continue
		}
		versions[name] = strings.TrimSpace(string(out))
	}
	return versions
}
