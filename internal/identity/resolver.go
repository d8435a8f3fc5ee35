// Package identity converts opaque capability handles into stable, persisted
// logical identities.
//
// Resolution never consults a handle's display label. Two distinct items can
// share a label; matching on it would merge their histories.
package identity

import (
	"fmt"
	"log/slog"

	"github.com/roach88/screentime/internal/domain"
	"github.com/roach88/screentime/internal/metrics"
	"github.com/roach88/screentime/internal/store"
)

// Resolver maps handle fingerprints to LogicalIDs through the
// handle_identities table.
type Resolver struct {
	gen     IDGenerator
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithMetrics records identity repairs.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver creates a resolver minting fresh identities with gen.
// A nil gen uses UUIDv7Generator.
func NewResolver(gen IDGenerator, opts ...Option) *Resolver {
	if gen == nil {
		gen = UUIDv7Generator{}
	}
	r := &Resolver{gen: gen, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fingerprint reduces a handle to its permanent hash. Pure; see
// domain.FingerprintHandle.
func (r *Resolver) Fingerprint(h domain.CapabilityHandle) (domain.Fingerprint, error) {
	return domain.FingerprintHandle(h)
}

// ResolveHandle fingerprints h and resolves it in one step.
func (r *Resolver) ResolveHandle(tx *store.Tx, h domain.CapabilityHandle) (domain.Fingerprint, domain.LogicalID, error) {
	fp, err := r.Fingerprint(h)
	if err != nil {
		return domain.Fingerprint{}, "", err
	}
	id, err := r.Resolve(tx, fp)
	if err != nil {
		return domain.Fingerprint{}, "", err
	}
	return fp, id, nil
}

// Resolve returns the LogicalID of fp, persisting a new mapping if needed.
//
// Rules, in order:
//  1. A persisted mapping for fp.Hash is reused.
//  2. A platform-stable external identifier already recorded on another
//     mapping resolves to that mapping's LogicalID.
//  3. A new external identifier is the LogicalID, verbatim.
//  4. Otherwise a fresh identifier is minted and persisted.
//
// A LogicalID, once persisted, is never rewritten: an external identifier
// that appears later for minted content is stored as an alias. Assignment,
// usage, Master and shield rows stay keyed by one id per item.
//
// A persisted mapping whose LogicalID is unusable is regenerated in place;
// the history of that one entry is lost, nothing else is touched.
func (r *Resolver) Resolve(tx *store.Tx, fp domain.Fingerprint) (domain.LogicalID, error) {
	if !fp.Hash.Valid() {
		return "", domain.NewIdentityResolutionError(fmt.Sprintf("malformed handle hash %q", fp.Hash), nil)
	}
	ext := domain.LogicalID(fp.ExternalID)
	if fp.ExternalID != "" && !ext.Valid() {
		return "", domain.NewIdentityResolutionError(
			fmt.Sprintf("external identifier %q is not usable", fp.ExternalID), nil)
	}

	existing, ok, err := tx.LookupHandle(fp.Hash)
	if err != nil {
		return "", fmt.Errorf("resolve: %w", err)
	}
	if ok {
		if !existing.LogicalID.Valid() {
			return r.repair(tx, fp, existing.LogicalID)
		}
		if fp.ExternalID != "" && existing.ExternalID == "" {
			if err := tx.SetExternalID(fp.Hash, fp.ExternalID); err != nil {
				return "", fmt.Errorf("resolve: %w", err)
			}
			r.logger.Info("recorded external identifier as alias",
				"handle_hash", fp.Hash,
				"logical_id", existing.LogicalID,
				"external_id", fp.ExternalID)
		}
		return existing.LogicalID, nil
	}

	id := ext
	if fp.ExternalID != "" {
		alias, found, err := tx.LookupExternal(fp.ExternalID)
		if err != nil {
			return "", fmt.Errorf("resolve: %w", err)
		}
		if found && alias.LogicalID.Valid() {
			id = alias.LogicalID
		}
	} else {
		id = r.gen.Generate()
		if !id.Valid() {
			return "", fmt.Errorf("resolve: generator produced invalid id %q", id)
		}
	}

	inserted, err := tx.InsertHandle(store.HandleIdentity{
		Hash:       fp.Hash,
		LogicalID:  id,
		ExternalID: fp.ExternalID,
		Seq:        tx.NextSeq(),
	})
	if err != nil {
		return "", fmt.Errorf("resolve: %w", err)
	}
	if inserted {
		r.logger.Debug("mapped handle",
			"handle_hash", fp.Hash,
			"logical_id", id,
			"external", fp.ExternalID != "")
		return id, nil
	}

	// Lost a race with another insert for the same hash: use its id.
	existing, ok, err = tx.LookupHandle(fp.Hash)
	if err != nil {
		return "", fmt.Errorf("resolve: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("resolve: mapping for %s vanished", fp.Hash)
	}
	return existing.LogicalID, nil
}

// repair replaces an unusable stored id. Content exposing an external
// identifier gets that identifier back; anything else is minted afresh.
func (r *Resolver) repair(tx *store.Tx, fp domain.Fingerprint, corrupt domain.LogicalID) (domain.LogicalID, error) {
	fresh := domain.LogicalID(fp.ExternalID)
	if fresh == "" {
		fresh = r.gen.Generate()
	}
	if err := tx.ReplaceHandle(fp.Hash, fresh, tx.NextSeq()); err != nil {
		return "", fmt.Errorf("repair identity: %w", err)
	}
	cerr := domain.NewPersistenceCorruptionError(corrupt, "stored logical id unusable; regenerated")
	r.logger.Error("regenerated corrupt identity mapping",
		"handle_hash", fp.Hash,
		"logical_id", fresh,
		"error", cerr)
	r.metrics.IdentityRepair()
	return fresh, nil
}

// Known returns the LogicalID already persisted for hash without minting.
// A corrupt mapping reports as unknown.
func (r *Resolver) Known(tx *store.Tx, hash domain.HandleHash) (domain.LogicalID, bool, error) {
	existing, ok, err := tx.LookupHandle(hash)
	if err != nil {
		return "", false, err
	}
	if !ok || !existing.LogicalID.Valid() {
		return "", false, nil
	}
	return existing.LogicalID, true, nil
}
