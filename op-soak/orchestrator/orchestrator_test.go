package orchestrator

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/yhl125/op-soak/op-service/testlog"
	"github.com/yhl125/op-soak/op-service/txinclude"
	"github.com/yhl125/op-soak/op-soak/account"
	"github.com/yhl125/op-soak/op-soak/config"
	"github.com/yhl125/op-soak/op-soak/metrics"
	"github.com/yhl125/op-soak/op-soak/schedule"
)

var errRejected = errors.New("rejected")

// fakeGateway accepts or rejects Execute calls by call order, optionally after
// a fixed latency, and tracks how many calls are in flight.
type fakeGateway struct {
	latency time.Duration
	fail    func(call uint64) bool

	calls       atomic.Uint64
	inFlight    atomic.Int64
	maxInFlight atomic.Int64

	mu       sync.Mutex
	rejected map[common.Address]int
	accepted map[common.Address]int
}

func newFakeGateway(latency time.Duration, fail func(call uint64) bool) *fakeGateway {
	return &fakeGateway{
		latency:  latency,
		fail:     fail,
		rejected: make(map[common.Address]int),
		accepted: make(map[common.Address]int),
	}
}

func (g *fakeGateway) DeclareClass(context.Context, txinclude.Signer, *txinclude.Artifact, txinclude.TxOpts) (txinclude.ClassID, error) {
	return txinclude.ClassID{}, errors.New("unsupported")
}

func (g *fakeGateway) DeployContract(context.Context, txinclude.Signer, txinclude.ClassID, []any, common.Hash, txinclude.TxOpts) (common.Address, error) {
	return common.Address{}, errors.New("unsupported")
}

func (g *fakeGateway) Execute(_ context.Context, signer txinclude.Signer, _ []txinclude.Call, opts txinclude.TxOpts) (common.Hash, error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		cur := g.maxInFlight.Load()
		if n <= cur || g.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	call := g.calls.Add(1) - 1
	if g.latency > 0 {
		time.Sleep(g.latency)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail != nil && g.fail(call) {
		g.rejected[signer.Address()]++
		return common.Hash{}, errRejected
	}
	g.accepted[signer.Address()]++
	return common.BigToHash(new(big.Int).SetUint64(opts.Nonce + 1)), nil
}

var testNetwork = config.Network{ChainID: big.NewInt(901), MaxFee: uint256.NewInt(1_000_000)}

func newIdentities(t *testing.T, gw txinclude.Gateway, n int, start uint64) ([]*account.Account, []Identity) {
	accounts := make([]*account.Account, 0, n)
	identities := make([]Identity, 0, n)
	for i := 0; i < n; i++ {
		pk, err := crypto.GenerateKey()
		require.NoError(t, err)
		a := account.FromKey(testNetwork, pk, gw, start, account.WithLogger(testlog.Logger(t, log.LevelInfo)))
		accounts = append(accounts, a)
		identities = append(identities, a)
	}
	return accounts, identities
}

type recordingObserver struct {
	mu      sync.Mutex
	jobs    []schedule.Job
	errs    []error
	batches []BatchStat
}

func (r *recordingObserver) JobDone(job schedule.Job, _ common.Hash, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	if err != nil {
		r.errs = append(r.errs, err)
	}
}

func (r *recordingObserver) BatchDone(stat BatchStat, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, stat)
}

func newOrchestrator(t *testing.T, opts ...Option) *Orchestrator {
	return New(testlog.Logger(t, log.LevelInfo), metrics.NoopMetrics, Config{Network: testNetwork}, opts...)
}

func TestRunOddCallsFail(t *testing.T) {
	const start = 5
	gw := newFakeGateway(0, func(call uint64) bool { return call%2 == 1 })
	accounts, identities := newIdentities(t, gw, 10, start)
	obs := &recordingObserver{}

	res, err := newOrchestrator(t, WithObserver(obs)).Run(context.Background(), identities, 3, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(5), res.Success)
	require.Equal(t, uint64(5), res.Failure)
	require.Equal(t, uint64(10), res.Total())
	require.Len(t, res.Batches, 4)

	for _, a := range accounts {
		switch {
		case gw.rejected[a.Address()] == 1:
			require.Equal(t, uint64(start), a.Nonce(), "rejected identity must not advance")
		case gw.accepted[a.Address()] == 1:
			require.Equal(t, uint64(start+1), a.Nonce())
		default:
			t.Fatalf("identity %s did not send exactly once", a.Address())
		}
	}

	require.Len(t, obs.jobs, 10)
	require.Len(t, obs.errs, 5)
	for _, err := range obs.errs {
		var jobErr *JobError
		require.ErrorAs(t, err, &jobErr)
		require.ErrorIs(t, err, errRejected)
		var subErr *account.SubmissionError
		require.ErrorAs(t, err, &subErr)
		require.Equal(t, identities[jobErr.Job.Sender].Address(), subErr.Sender)
	}
	require.Len(t, obs.batches, 4)
	require.Equal(t, []int{3, 3, 3, 1}, []int{obs.batches[0].Size, obs.batches[1].Size, obs.batches[2].Size, obs.batches[3].Size})
}

func TestRunLatencyBounds(t *testing.T) {
	const latency = 20 * time.Millisecond
	const concurrency = 4
	gw := newFakeGateway(latency, nil)
	_, identities := newIdentities(t, gw, 6, 0)

	// 6 identities x 2 iterations = 12 jobs in 3 batches of 4.
	res, err := newOrchestrator(t).Run(context.Background(), identities, concurrency, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(12), res.Success)
	require.Len(t, res.Batches, 3)

	require.GreaterOrEqual(t, res.Elapsed, 3*latency, "batches must run one after another")
	require.Less(t, res.Elapsed, 12*latency, "jobs within a batch must run in parallel")
	require.LessOrEqual(t, gw.maxInFlight.Load(), int64(concurrency))
	require.Greater(t, res.TPS(), 0.0)
	for _, b := range res.Batches {
		require.GreaterOrEqual(t, b.Elapsed, latency)
		require.Greater(t, b.TPS, 0.0)
	}
}

func TestRunAllFail(t *testing.T) {
	gw := newFakeGateway(0, func(uint64) bool { return true })
	accounts, identities := newIdentities(t, gw, 4, 2)
	res, err := newOrchestrator(t).Run(context.Background(), identities, 2, 3)
	require.NoError(t, err)
	require.Zero(t, res.Success)
	require.Equal(t, uint64(12), res.Failure)
	for _, a := range accounts {
		require.Equal(t, uint64(2), a.Nonce())
	}
}

func TestRunAdvancesNonces(t *testing.T) {
	gw := newFakeGateway(0, nil)
	accounts, identities := newIdentities(t, gw, 4, 0)
	res, err := newOrchestrator(t).Run(context.Background(), identities, 16, 5)
	require.NoError(t, err)
	require.Equal(t, uint64(20), res.Success)
	for _, a := range accounts {
		require.Equal(t, uint64(5), a.Nonce())
	}
}

func TestRunInvalidArguments(t *testing.T) {
	gw := newFakeGateway(0, nil)
	_, two := newIdentities(t, gw, 2, 0)
	o := newOrchestrator(t)

	_, err := o.Run(context.Background(), two[:1], 1, 1)
	require.ErrorIs(t, err, ErrTooFewIdentities)
	_, err = o.Run(context.Background(), two, 0, 1)
	require.ErrorIs(t, err, ErrInvalidConcurrency)
	_, err = o.Run(context.Background(), two, 1, 0)
	require.ErrorIs(t, err, ErrInvalidIterations)
	require.Zero(t, gw.calls.Load())
}

func TestResultTPS(t *testing.T) {
	require.Zero(t, Result{Success: 3}.TPS())
	require.Equal(t, 2.0, Result{Success: 3, Failure: 1, Elapsed: 2 * time.Second}.TPS())
}
