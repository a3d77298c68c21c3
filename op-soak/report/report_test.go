package report

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yhl125/op-soak/op-soak/orchestrator"
	"github.com/yhl125/op-soak/op-soak/schedule"
)

func testResult() orchestrator.Result {
	return orchestrator.Result{
		Success: 7,
		Failure: 1,
		Elapsed: 2 * time.Second,
		Batches: []orchestrator.BatchStat{
			{Index: 0, Size: 4, Success: 4, Elapsed: time.Second, TPS: 4},
			{Index: 1, Size: 4, Success: 3, Failure: 1, Elapsed: time.Second, TPS: 4},
		},
	}
}

func TestProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, 3)
	require.Equal(t, uint64(3), p.Remaining())

	p.JobDone(schedule.Job{Sender: 0, Recipient: 1}, common.Hash{1}, nil)
	p.JobDone(schedule.Job{Sender: 1, Recipient: 0}, common.Hash{}, errors.New("rejected"))
	require.Equal(t, uint64(1), p.Remaining())
	require.Equal(t, uint64(1), p.Failed())

	p.BatchDone(orchestrator.BatchStat{Index: 0, Size: 2, TPS: 2}, 2)
	p.JobDone(schedule.Job{Sender: 2, Recipient: 0}, common.Hash{2}, nil)
	require.Zero(t, p.Remaining())

	// reports beyond the total never underflow
	p.JobDone(schedule.Job{}, common.Hash{}, nil)
	require.Zero(t, p.Remaining())
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	WriteSummary(&buf, "abc", testResult(), false)
	out := buf.String()
	require.Contains(t, out, "Run abc")
	require.Contains(t, out, "Batch")
	require.Contains(t, out, "Total")
	require.NotContains(t, out, "\x1b[", "no escape codes without color")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	var footer string
	for _, l := range lines {
		if strings.Contains(l, "Total") {
			footer = l
		}
	}
	require.Contains(t, footer, "8")
	require.Contains(t, footer, "7")
	require.Contains(t, footer, "4.0")
}

func TestSaveTPSGraph(t *testing.T) {
	dir := t.TempDir()
	path, err := SaveTPSGraph(dir, testResult())
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "tps.png"), path)
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NotZero(t, info.Size())

	_, err = SaveTPSGraph(dir, orchestrator.Result{})
	require.ErrorIs(t, err, ErrNoBatches)
}

func TestArtifactDir(t *testing.T) {
	at := time.Date(2025, 6, 1, 13, 4, 5, 0, time.UTC)
	require.Equal(t, filepath.Join("artifacts", "run1_20250601-130405"), ArtifactDir("artifacts", "run1", at))
}
