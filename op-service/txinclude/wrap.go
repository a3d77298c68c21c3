package txinclude

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/ethereum/go-ethereum/common"
)

// WithCallTimeout bounds each call to the inner gateway by timeout.
// A non-positive timeout returns the inner gateway unchanged.
func WithCallTimeout(inner Gateway, timeout time.Duration) Gateway {
	if timeout <= 0 {
		return inner
	}
	return &timeoutGateway{inner: inner, timeout: timeout}
}

type timeoutGateway struct {
	inner   Gateway
	timeout time.Duration
}

func (g *timeoutGateway) DeclareClass(ctx context.Context, signer Signer, artifact *Artifact, opts TxOpts) (ClassID, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.inner.DeclareClass(ctx, signer, artifact, opts)
}

func (g *timeoutGateway) DeployContract(ctx context.Context, signer Signer, class ClassID, args []any, salt common.Hash, opts TxOpts) (common.Address, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.inner.DeployContract(ctx, signer, class, args, salt, opts)
}

func (g *timeoutGateway) Execute(ctx context.Context, signer Signer, calls []Call, opts TxOpts) (common.Hash, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.inner.Execute(ctx, signer, calls, opts)
}

// WithRateLimit makes every call wait for a token from limiter before it reaches
// the inner gateway. A nil limiter returns the inner gateway unchanged.
//
// Wrap the rate limit outside of WithCallTimeout so that time spent waiting for
// a token does not count against the call timeout.
func WithRateLimit(inner Gateway, limiter *rate.Limiter) Gateway {
	if limiter == nil {
		return inner
	}
	return &limitedGateway{inner: inner, limiter: limiter}
}

type limitedGateway struct {
	inner   Gateway
	limiter *rate.Limiter
}

func (g *limitedGateway) wait(ctx context.Context) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return nil
}

func (g *limitedGateway) DeclareClass(ctx context.Context, signer Signer, artifact *Artifact, opts TxOpts) (ClassID, error) {
	if err := g.wait(ctx); err != nil {
		return ClassID{}, err
	}
	return g.inner.DeclareClass(ctx, signer, artifact, opts)
}

func (g *limitedGateway) DeployContract(ctx context.Context, signer Signer, class ClassID, args []any, salt common.Hash, opts TxOpts) (common.Address, error) {
	if err := g.wait(ctx); err != nil {
		return common.Address{}, err
	}
	return g.inner.DeployContract(ctx, signer, class, args, salt, opts)
}

func (g *limitedGateway) Execute(ctx context.Context, signer Signer, calls []Call, opts TxOpts) (common.Hash, error) {
	if err := g.wait(ctx); err != nil {
		return common.Hash{}, err
	}
	return g.inner.Execute(ctx, signer, calls, opts)
}
