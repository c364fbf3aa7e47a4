package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"token-wallet-monitor/internal/domain"
	"token-wallet-monitor/internal/observability"
)

// Fanout writes to a primary Store and copies every new transaction to
// secondary sinks (analytics, pub/sub, brokers). Reads go to the primary.
type Fanout struct {
	primary Store
	sinks   []namedSink
	log     *logrus.Entry
}

type namedSink struct {
	name string
	sink TransactionSink
}

// NewFanout creates a Fanout over primary.
func NewFanout(primary Store, log *logrus.Entry) *Fanout {
	if log == nil {
		log = logrus.WithField("component", "storage")
	}
	return &Fanout{primary: primary, log: log}
}

// AddSink registers a secondary transaction sink.
func (f *Fanout) AddSink(name string, sink TransactionSink) {
	f.sinks = append(f.sinks, namedSink{name: name, sink: sink})
}

// Sinks returns the names of registered sinks.
func (f *Fanout) Sinks() []string {
	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.name
	}
	return names
}

var _ Store = (*Fanout)(nil)

// InsertWallet writes to the primary store.
func (f *Fanout) InsertWallet(ctx context.Context, w *domain.Wallet) error {
	if err := f.primary.InsertWallet(ctx, w); err != nil {
		observability.RecordStoreWriteError("wallet")
		return err
	}
	return nil
}

// GetWallet reads from the primary store.
func (f *Fanout) GetWallet(ctx context.Context, address string) (*domain.Wallet, error) {
	return f.primary.GetWallet(ctx, address)
}

// GetTopWallets reads from the primary store.
func (f *Fanout) GetTopWallets(ctx context.Context, limit int) ([]*domain.Wallet, error) {
	return f.primary.GetTopWallets(ctx, limit)
}

// GetTransactionsByWallet reads from the primary store.
func (f *Fanout) GetTransactionsByWallet(ctx context.Context, address string, limit int) ([]*domain.ClassifiedTransaction, error) {
	return f.primary.GetTransactionsByWallet(ctx, address, limit)
}

// InsertTransaction writes to the primary store first. Sinks only see
// signatures the primary had not stored before; every sink is tried and
// their failures are joined.
func (f *Fanout) InsertTransaction(ctx context.Context, tx *domain.ClassifiedTransaction) error {
	_, err := f.SaveTransaction(ctx, tx)
	return err
}

// SaveTransaction is InsertTransaction reporting whether the primary
// stored tx as new.
func (f *Fanout) SaveTransaction(ctx context.Context, tx *domain.ClassifiedTransaction) (bool, error) {
	inserted, err := f.primary.SaveTransaction(ctx, tx)
	if err != nil {
		observability.RecordStoreWriteError("transaction")
		return false, err
	}
	if !inserted {
		f.log.WithField("signature", tx.Signature).Debug("duplicate transaction, sinks skipped")
		return false, nil
	}

	var errs []error
	for _, s := range f.sinks {
		if err := s.sink.InsertTransaction(ctx, tx); err != nil {
			observability.RecordStoreWriteError(s.name)
			f.log.WithFields(logrus.Fields{
				"sink":      s.name,
				"signature": tx.Signature,
			}).WithError(err).Warn("sink write failed")
			errs = append(errs, fmt.Errorf("sink %s: %w", s.name, err))
		}
	}
	return true, errors.Join(errs...)
}
