// Package report renders the progress and outcome of a soak run on the
// console and to image artifacts.
package report

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yhl125/op-soak/op-service/safemath"
	"github.com/yhl125/op-soak/op-soak/orchestrator"
	"github.com/yhl125/op-soak/op-soak/schedule"
)

// Progress is an orchestrator.Observer that draws a progress bar over all jobs.
type Progress struct {
	bar    *progressbar.ProgressBar
	total  uint64
	done   atomic.Uint64
	failed atomic.Uint64
}

var _ orchestrator.Observer = (*Progress)(nil)

func NewProgress(w io.Writer, total int) *Progress {
	bar := progressbar.NewOptions64(int64(total),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("transfers"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { _, _ = fmt.Fprintln(w) }),
	)
	return &Progress{bar: bar, total: uint64(total)}
}

func (p *Progress) JobDone(_ schedule.Job, _ common.Hash, err error) {
	p.done.Add(1)
	if err != nil {
		p.failed.Add(1)
	}
	_ = p.bar.Add(1)
}

func (p *Progress) BatchDone(stat orchestrator.BatchStat, batches int) {
	p.bar.Describe(fmt.Sprintf("batch %d/%d %.1f tps", stat.Index+1, batches, stat.TPS))
}

// Remaining is the number of jobs not reported done yet.
func (p *Progress) Remaining() uint64 {
	return safemath.SaturatingSub(p.total, p.done.Load())
}

func (p *Progress) Failed() uint64 {
	return p.failed.Load()
}

func (p *Progress) Finish() error {
	return p.bar.Finish()
}
