// Package soak runs a complete load test: it provisions and funds the
// identities, optionally deploys a token, and drives the transfer schedule.
package soak

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"

	"github.com/yhl125/op-soak/op-service/accounting"
	"github.com/yhl125/op-soak/op-service/txinclude"
	"github.com/yhl125/op-soak/op-soak/account"
	"github.com/yhl125/op-soak/op-soak/bootstrap"
	"github.com/yhl125/op-soak/op-soak/config"
	"github.com/yhl125/op-soak/op-soak/metrics"
	"github.com/yhl125/op-soak/op-soak/orchestrator"
	"github.com/yhl125/op-soak/op-soak/report"
	"github.com/yhl125/op-soak/op-soak/schedule"
)

// Client is an execution endpoint.
type Client interface {
	txinclude.EL
	ChainID(ctx context.Context) (*big.Int, error)
	Close()
}

type Dialer func(ctx context.Context, url string) (Client, error)

func DialEthClient(ctx context.Context, url string) (Client, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return client, nil
}

type endpoint struct {
	url     string
	el      Client
	gateway txinclude.Gateway
}

type Soak struct {
	log   log.Logger
	m     metrics.Metricer
	cfg   *config.CLIConfig
	dial  Dialer
	fs    afero.Fs
	runID string

	out   io.Writer
	color bool
}

type Option func(*Soak)

// WithFs sets the filesystem artifacts are read from.
func WithFs(fs afero.Fs) Option {
	return func(s *Soak) {
		s.fs = fs
	}
}

func WithDialer(d Dialer) Option {
	return func(s *Soak) {
		s.dial = d
	}
}

// WithOutput renders the progress bar and the summary to w.
func WithOutput(w io.Writer, color bool) Option {
	return func(s *Soak) {
		s.out = w
		s.color = color
	}
}

func New(logger log.Logger, m metrics.Metricer, cfg *config.CLIConfig, opts ...Option) *Soak {
	s := &Soak{
		m:     m,
		cfg:   cfg,
		dial:  DialEthClient,
		fs:    afero.NewOsFs(),
		runID: uuid.NewString(),
		out:   io.Discard,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.New("run", s.runID)
	return s
}

func (s *Soak) RunID() string {
	return s.runID
}

func (s *Soak) Run(ctx context.Context) (orchestrator.Result, error) {
	endpoints, chainID, err := s.connect(ctx)
	if err != nil {
		return orchestrator.Result{}, err
	}
	defer func() {
		for _, e := range endpoints {
			e.el.Close()
		}
	}()
	network := s.cfg.Network(chainID)
	if err := network.Check(); err != nil {
		return orchestrator.Result{}, err
	}

	mnemonic := s.cfg.Mnemonic
	if mnemonic == "" {
		if mnemonic, err = bootstrap.NewMnemonic(); err != nil {
			return orchestrator.Result{}, err
		}
		_, _ = fmt.Fprintf(s.out, "Generated identity mnemonic: %s\n", mnemonic)
		s.log.Info("Generated identity mnemonic, written to the run output")
	}

	token := s.cfg.Token
	var funder *account.Account
	if !s.cfg.SkipFunding || s.cfg.ERC20Artifact != "" {
		if funder, err = s.funder(ctx, network, mnemonic, endpoints[0]); err != nil {
			return orchestrator.Result{}, err
		}
	}
	if s.cfg.ERC20Artifact != "" {
		if token, err = s.deployToken(ctx, funder); err != nil {
			return orchestrator.Result{}, err
		}
	}

	identities, err := s.identities(network, mnemonic, endpoints)
	if err != nil {
		return orchestrator.Result{}, err
	}
	addrs := make([]common.Address, len(identities))
	for i, id := range identities {
		addrs[i] = id.Address()
	}

	if !s.cfg.SkipFunding {
		err := bootstrap.Fund(ctx, s.log, funder, bootstrap.FundingConfig{
			Native:      s.cfg.FundAmount,
			Token:       token,
			TokenAmount: s.cfg.TokenFundAmount,
		}, addrs)
		if err != nil {
			return orchestrator.Result{}, fmt.Errorf("failed to fund identities: %w", err)
		}
		if err := s.settle(ctx, "funding"); err != nil {
			return orchestrator.Result{}, err
		}
	}

	if err := s.resync(ctx, identities, endpoints); err != nil {
		return orchestrator.Result{}, err
	}

	jobs := len(identities) * s.cfg.Iterations
	progress := report.NewProgress(s.out, jobs)
	orc := orchestrator.New(s.log, s.m, orchestrator.Config{
		Network: network,
		Token:   token,
		Amount:  s.cfg.TransferAmount,
	}, orchestrator.WithObserver(progress))
	ids := make([]orchestrator.Identity, len(identities))
	for i, id := range identities {
		ids[i] = id
	}
	res, err := orc.Run(ctx, ids, s.cfg.Concurrency, s.cfg.Iterations)
	if err != nil {
		return orchestrator.Result{}, err
	}
	_ = progress.Finish()
	if remaining := progress.Remaining(); remaining > 0 {
		s.log.Warn("Transfers not reported by the run", "remaining", remaining)
	}
	s.log.Info("Transfers finished", "jobs", jobs, "failed", progress.Failed())

	report.WriteSummary(s.out, s.runID, res, s.color)
	if s.cfg.ArtifactsDir != "" {
		s.saveGraph(res)
	}
	return res, nil
}

func (s *Soak) connect(ctx context.Context) ([]endpoint, *big.Int, error) {
	var endpoints []endpoint
	fail := func(err error) ([]endpoint, *big.Int, error) {
		for _, e := range endpoints {
			e.el.Close()
		}
		return nil, nil, err
	}
	for _, url := range s.cfg.RPCURLs {
		el, err := s.dial(ctx, url)
		if err != nil {
			return fail(fmt.Errorf("failed to dial %s: %w", url, err))
		}
		endpoints = append(endpoints, endpoint{url: url, el: el})
	}
	if len(endpoints) == 0 {
		return fail(errors.New("no endpoints"))
	}

	var chainID *big.Int
	if s.cfg.ChainID != 0 {
		chainID = new(big.Int).SetUint64(s.cfg.ChainID)
	} else {
		id, err := endpoints[0].el.ChainID(ctx)
		if err != nil {
			return fail(fmt.Errorf("failed to fetch chain ID: %w", err))
		}
		chainID = id
	}

	for i := range endpoints {
		gw, err := txinclude.NewEVMGateway(s.log.New("endpoint", endpoints[i].url), endpoints[i].el, txinclude.EVMConfig{
			ChainID:        chainID,
			GasLimit:       s.cfg.GasLimit,
			DeployGasLimit: s.cfg.DeployGasLimit,
			TipCap:         s.cfg.Tip,
		})
		if err != nil {
			return fail(err)
		}
		var limited txinclude.Gateway = txinclude.WithCallTimeout(gw, s.cfg.CallTimeout)
		if s.cfg.RateLimit > 0 {
			limited = txinclude.WithRateLimit(limited, rate.NewLimiter(rate.Limit(s.cfg.RateLimit), s.cfg.RateBurst))
		}
		endpoints[i].gateway = limited
	}
	s.log.Info("Connected", "endpoints", len(endpoints), "chain", chainID)
	return endpoints, chainID, nil
}

func (s *Soak) accountOpts() []account.Option {
	opts := []account.Option{
		account.WithLogger(s.log),
		account.WithMetrics(s.m),
		account.WithStrictRollback(s.cfg.StrictRollback),
	}
	if s.cfg.FeeBudget != nil {
		opts = append(opts, account.WithBudget(accounting.NewBudget(s.cfg.FeeBudget)))
	}
	return opts
}

func (s *Soak) funder(ctx context.Context, network config.Network, mnemonic string, e endpoint) (*account.Account, error) {
	pk := s.cfg.FunderKey
	if pk == nil {
		keys, err := bootstrap.DeriveKeys(mnemonic, 0, 1)
		if err != nil {
			return nil, err
		}
		pk = keys[0]
	}
	// The funder pays for setup only, it is not subject to the fee budget.
	funder := account.FromKey(network, pk, e.gateway, 0, account.WithLogger(s.log), account.WithMetrics(s.m))
	if err := funder.Resync(ctx, e.el); err != nil {
		return nil, err
	}
	s.log.Info("Funding identity ready", "address", funder.Address(), "nonce", funder.Nonce())
	return funder, nil
}

func (s *Soak) deployToken(ctx context.Context, funder *account.Account) (common.Address, error) {
	artifact, err := bootstrap.LoadArtifact(s.fs, s.cfg.ERC20Artifact)
	if err != nil {
		return common.Address{}, err
	}
	args, err := bootstrap.ERC20ConstructorArgs(artifact.ABI.Constructor, bootstrap.TokenParams{
		Name:      s.cfg.TokenName,
		Symbol:    s.cfg.TokenSymbol,
		Decimals:  s.cfg.TokenDecimals,
		Supply:    s.cfg.TokenSupply,
		Recipient: funder.Address(),
	})
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to build constructor arguments of %s: %w", artifact.Name, err)
	}

	class, err := funder.DeclareClass(ctx, artifact)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to declare %s: %w", artifact.Name, err)
	}
	s.log.Info("Declared class", "name", artifact.Name, "class", class)
	if err := s.settle(ctx, "declare"); err != nil {
		return common.Address{}, err
	}

	addr, err := funder.DeployContract(ctx, class, args, s.cfg.Salt)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to deploy %s: %w", artifact.Name, err)
	}
	s.log.Info("Deployed token", "name", artifact.Name, "address", addr)
	if err := s.settle(ctx, "deploy"); err != nil {
		return common.Address{}, err
	}
	return addr, nil
}

// identities derives the keys at mnemonic indices 1..N and spreads them over
// the endpoints.
func (s *Soak) identities(network config.Network, mnemonic string, endpoints []endpoint) ([]*account.Account, error) {
	keys, err := bootstrap.DeriveKeys(mnemonic, 1, s.cfg.Accounts)
	if err != nil {
		return nil, err
	}
	rr := schedule.NewRoundRobin(endpoints)
	out := make([]*account.Account, len(keys))
	for i, pk := range keys {
		out[i] = account.FromKey(network, pk, rr.Get().gateway, 0, s.accountOpts()...)
	}
	return out, nil
}

// resync loads the pending nonce of every identity from the endpoint it uses.
func (s *Soak) resync(ctx context.Context, identities []*account.Account, endpoints []endpoint) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.cfg.Concurrency, 1))
	for i, id := range identities {
		el := endpoints[i%len(endpoints)].el
		g.Go(func() error {
			return id.Resync(ctx, el)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to resync nonces: %w", err)
	}
	return nil
}

func (s *Soak) settle(ctx context.Context, phase string) error {
	if s.cfg.SettleDelay <= 0 {
		return nil
	}
	s.log.Info("Waiting for transactions to settle", "phase", phase, "delay", s.cfg.SettleDelay)
	t := time.NewTimer(s.cfg.SettleDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Soak) saveGraph(res orchestrator.Result) {
	dir := report.ArtifactDir(s.cfg.ArtifactsDir, s.runID, time.Now())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.log.Warn("Failed to create artifacts directory", "dir", dir, "err", err)
		return
	}
	path, err := report.SaveTPSGraph(dir, res)
	if err != nil {
		s.log.Warn("Failed to save TPS graph", "err", err)
		return
	}
	s.log.Info("Saved TPS graph", "path", path)
}
