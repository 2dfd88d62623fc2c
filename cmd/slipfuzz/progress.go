package main

import (
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

// burstProgress renders the chat burst on stderr.
type burstProgress struct {
	bar *progressbar.ProgressBar
}

func newBurstProgress(total int) *burstProgress {
	return &burstProgress{
		bar: progressbar.NewOptions(total,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("chat burst"),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		),
	}
}

// Update matches session.Config.BurstProgress.
func (p *burstProgress) Update(sent, total int) {
	_ = p.bar.Set(sent)
	if sent >= total {
		_ = p.bar.Finish()
	}
}

// Done clears the bar when the burst ended early.
func (p *burstProgress) Done() {
	if !p.bar.IsFinished() {
		_ = p.bar.Finish()
	}
}
