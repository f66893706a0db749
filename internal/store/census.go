package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/overlaywatch/canopy/internal/xerrors"
)

// RecordCensusStart opens a new census row for the given subnetwork and
// returns its ID. The cartographer calls this once per enumeration run,
// before fanning out.
func (s *Store) RecordCensusStart(ctx context.Context, subnet Subnetwork) (uuid.UUID, error) {
	id := uuid.New()
	const q = `INSERT INTO censuses (id, subnetwork, started_at) VALUES ($1, $2, $3)`
	err := withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, q, id, subnet, time.Now().UTC())
		return wrapErr(err)
	})
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// UpsertNodeRecord stores the highest-sequence record seen for an identity.
// A lower or equal sequence number than what is already on file is a no-op,
// not an error: stale gossip is expected and harmless.
func (s *Store) UpsertNodeRecord(ctx context.Context, rec NodeRecord) error {
	const q = `
		INSERT INTO node_records (identity, sequence, ip, udp_port, client_tag, signature, blob)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (identity) DO UPDATE SET
			sequence = EXCLUDED.sequence,
			ip = EXCLUDED.ip,
			udp_port = EXCLUDED.udp_port,
			client_tag = EXCLUDED.client_tag,
			signature = EXCLUDED.signature,
			blob = EXCLUDED.blob
		WHERE node_records.sequence < EXCLUDED.sequence`
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, q, rec.Identity[:], rec.Sequence, rec.IP.String(), rec.UDPPort, rec.ClientTag, rec.Signature, rec.Blob)
		return wrapErr(err)
	})
}

// RecordObservation persists one node's self-declared radius for a census.
// Failure here is one node's partial failure: the cartographer logs it via
// xerrors and continues enumerating the rest of the bucket (spec.md §4.3).
func (s *Store) RecordObservation(ctx context.Context, obs CensusObservation) error {
	const q = `
		INSERT INTO census_observations (census_id, node_identity, observed_radius, observed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (census_id, node_identity) DO UPDATE SET
			observed_radius = EXCLUDED.observed_radius,
			observed_at = EXCLUDED.observed_at`
	radius := obs.ObservedRadius.Hex()
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, q, obs.CensusID, obs.NodeIdentity[:], radius, obs.ObservedAt)
		return wrapErr(err)
	})
}

// CloseCensus marks a census complete and records its wall-clock duration.
func (s *Store) CloseCensus(ctx context.Context, censusID uuid.UUID) error {
	const q = `
		UPDATE censuses
		SET completed_at = $2,
		    duration_seconds = EXTRACT(EPOCH FROM ($2::timestamptz - started_at))
		WHERE id = $1`
	now := time.Now().UTC()
	return withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, q, censusID, now)
		if err != nil {
			return wrapErr(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return wrapErr(err)
		}
		if n == 0 {
			return xerrors.New(xerrors.KindStorePermanent, errCensusNotFound(censusID))
		}
		return nil
	})
}

type errCensusNotFound uuid.UUID

func (e errCensusNotFound) Error() string {
	return "store: census " + uuid.UUID(e).String() + " not found"
}
