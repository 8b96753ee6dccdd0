package recording

import (
	"context"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// termGrace is how long a cancelled ffmpeg gets to flush and close its
// output after SIGTERM before it is killed.
const termGrace = 5 * time.Second

// FFmpegCommand builds an ffmpeg invocation bound to ctx. Cancellation sends
// SIGTERM so the muxer can finalize the file it is writing; only after
// termGrace does the child get SIGKILL. TZ is pinned to UTC so strftime
// output patterns match the archive path math.
func FFmpegCommand(ctx context.Context, args []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Env = append(os.Environ(), "TZ=UTC")
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = termGrace
	return cmd
}
