// Package pipeline turns account-change notifications into classified
// buy/sell transactions of the monitored mint.
package pipeline

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"token-wallet-monitor/internal/domain"
	"token-wallet-monitor/internal/observability"
	"token-wallet-monitor/internal/pool"
	"token-wallet-monitor/internal/retry"
	"token-wallet-monitor/internal/solana"
	"token-wallet-monitor/internal/storage"
)

// DefaultSignatureLimit is how many recent signatures a notification inspects.
const DefaultSignatureLimit = 5

// Pipeline fetches, classifies and persists the transactions behind an
// account change.
type Pipeline struct {
	mint           string
	conns          *pool.Pool[*solana.Conn]
	exec           *retry.Executor
	sink           storage.TransactionSink
	signatureLimit int
	commitment     solana.Commitment
	log            *logrus.Entry
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSignatureLimit sets the number of signatures fetched per notification.
func WithSignatureLimit(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.signatureLimit = n
		}
	}
}

// WithCommitment sets the commitment used for getTransaction.
func WithCommitment(c solana.Commitment) Option {
	return func(p *Pipeline) {
		if c != "" {
			p.commitment = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *logrus.Entry) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

// New creates a Pipeline for mint. Upstream calls pick a handle from conns
// and run through exec; classified transactions go to sink.
func New(mint string, conns *pool.Pool[*solana.Conn], exec *retry.Executor, sink storage.TransactionSink, opts ...Option) *Pipeline {
	p := &Pipeline{
		mint:           mint,
		conns:          conns,
		exec:           exec,
		sink:           sink,
		signatureLimit: DefaultSignatureLimit,
		commitment:     solana.CommitmentConfirmed,
		log:            logrus.WithField("component", "pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HandleAccountChange inspects the latest signatures of address and stores
// every non-zero movement of the mint. Per-signature and storage failures
// are logged and skipped. It returns the number of stored transactions.
func (p *Pipeline) HandleAccountChange(ctx context.Context, address string, n solana.AccountNotification) (int, error) {
	observability.RecordNotification()
	log := p.log.WithFields(logrus.Fields{"address": address, "slot": n.Slot})

	sigs, err := p.signatures(ctx, address, p.signatureLimit)
	if err != nil {
		observability.RecordPipelineError("signatures")
		return 0, err
	}

	stored := 0
	for _, sig := range sigs {
		if ctx.Err() != nil {
			return stored, ctx.Err()
		}

		tx, err := p.classify(ctx, address, sig)
		if err != nil {
			observability.RecordPipelineError("transaction")
			log.WithField("signature", sig.Signature).WithError(err).Warn("fetch transaction failed")
			continue
		}
		if tx == nil {
			continue
		}

		if err := p.sink.InsertTransaction(ctx, tx); err != nil {
			observability.RecordPipelineError("store")
			log.WithField("signature", tx.Signature).WithError(err).Error("store transaction failed")
			continue
		}
		stored++
		observability.RecordClassified(string(tx.Direction), string(tx.Protocol))
		log.WithFields(logrus.Fields{
			"signature": tx.Signature,
			"direction": tx.Direction,
			"amount":    tx.Amount.String(),
			"protocol":  tx.Protocol,
		}).Info("transaction classified")
	}
	return stored, nil
}

// History classifies up to limit recent transactions of address without
// persisting them. The first upstream failure is returned.
func (p *Pipeline) History(ctx context.Context, address string, limit int) ([]*domain.ClassifiedTransaction, error) {
	if limit <= 0 {
		limit = p.signatureLimit
	}

	sigs, err := p.signatures(ctx, address, limit)
	if err != nil {
		return nil, err
	}

	var result []*domain.ClassifiedTransaction
	for _, sig := range sigs {
		tx, err := p.classify(ctx, address, sig)
		if err != nil {
			return nil, err
		}
		if tx != nil {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (p *Pipeline) signatures(ctx context.Context, address string, limit int) ([]solana.SignatureInfo, error) {
	sigs, err := retry.Do(ctx, p.exec, func(ctx context.Context) ([]solana.SignatureInfo, error) {
		return p.conns.Select().RPC.GetSignaturesForAddress(ctx, address, &solana.SignaturesOpts{Limit: limit})
	})
	if err != nil {
		return nil, fmt.Errorf("get signatures for %s: %w", address, err)
	}
	return sigs, nil
}

// classify fetches one transaction and classifies it for address.
// A nil result without error means there is nothing to record.
func (p *Pipeline) classify(ctx context.Context, address string, sig solana.SignatureInfo) (*domain.ClassifiedTransaction, error) {
	if sig.Err != nil {
		return nil, nil
	}

	tx, err := retry.Do(ctx, p.exec, func(ctx context.Context) (*solana.Transaction, error) {
		return p.conns.Select().RPC.GetTransaction(ctx, sig.Signature, p.commitment)
	})
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", sig.Signature, err)
	}
	if tx == nil {
		return nil, nil
	}
	if tx.Signature == "" {
		tx.Signature = sig.Signature
	}
	if tx.BlockTime == 0 && sig.BlockTime != nil {
		tx.BlockTime = *sig.BlockTime
	}

	classified := ClassifyTransaction(tx, address, p.mint)
	if classified == nil {
		if !tx.Failed() {
			observability.RecordZeroDelta()
		}
		return nil, nil
	}
	return classified, nil
}
