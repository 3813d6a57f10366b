package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
)

// progress shows a spinner with a conversion counter on a terminal
type progress struct {
	s *spinner.Spinner
}

// newProgress returns nil when w is not a terminal or when verbose logs would
// interleave with the spinner
func newProgress(w io.Writer, verbose bool) *progress {
	f, ok := w.(*os.File)
	if !ok || verbose || !isTerminal(f) {
		return nil
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(f))
	s.Suffix = " reading export"
	return &progress{s: s}
}

func (p *progress) start() {
	if p == nil {
		return
	}
	p.s.Start()
}

// update is passed to the migration as its progress callback
func (p *progress) update(done, total int) {
	if p == nil {
		return
	}
	p.s.Lock()
	p.s.Suffix = fmt.Sprintf(" converting conversations %d/%d", done, total)
	p.s.Unlock()
}

func (p *progress) stop() {
	if p == nil {
		return
	}
	p.s.Stop()
}
