package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// DefaultCandidates is the fallback binary search order when no
// configuration-supplied candidate list is set: jellyfin's bundled ffmpeg
// (common on systems running Jellyfin alongside capture), a QSV-flavored
// build some distros package separately, then plain ffmpeg on PATH.
var DefaultCandidates = []string{
	"/usr/lib/jellyfin-ffmpeg/ffmpeg",
	"/usr/local/bin/ffmpeg-qsv",
	"ffmpeg",
}

// ResolveBinary probes each candidate in order by running "<candidate>
// -version" with a short timeout and returns the first one that exits
// cleanly. Candidates that are not on PATH or do not respond in time are
// skipped silently.
func ResolveBinary(candidates []string) (string, error) {
	if len(candidates) == 0 {
		candidates = DefaultCandidates
	}

	for _, candidate := range candidates {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := exec.CommandContext(ctx, candidate, "-version").Run()
		cancel()
		if err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("no usable ffmpeg binary found among %v", candidates)
}
