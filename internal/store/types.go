// Package store is the typed relational access layer shared by the
// cartographer, ingestor and auditor (spec.md §4.2, component C1). It
// owns every cross-component foreign-key relationship: the three
// services coordinate only through these tables, never in-process.
package store

import (
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// NodeIdentity is the 256-bit identifier derived from a node's public key
// (the ENR node address, in ENR terms). It is immutable once created.
type NodeIdentity [32]byte

func (n NodeIdentity) Hex() string { return hexEncode(n[:]) }

// NodeRecord is one authenticated, versioned endpoint descriptor for a
// NodeIdentity. The same identity may own many records over time; the
// highest Sequence is authoritative.
type NodeRecord struct {
	Identity  NodeIdentity
	Sequence  uint64
	IP        net.IP
	UDPPort   int
	ClientTag string
	Signature []byte
	Blob      []byte // the canonical encoded record, verbatim
}

// Subnetwork identifies which overlay instance a census, observation or
// audit belongs to.
type Subnetwork string

const (
	SubnetworkHistory Subnetwork = "history"
	SubnetworkState   Subnetwork = "state"
	SubnetworkBeacon  Subnetwork = "beacon"
)

// Census is one network-wide enumeration run.
type Census struct {
	ID         uuid.UUID
	Subnetwork Subnetwork
	StartedAt  time.Time
	CompletedAt *time.Time
	Duration   time.Duration
}

// CensusObservation records one node's self-declared radius as seen during
// a specific census.
type CensusObservation struct {
	CensusID       uuid.UUID
	NodeIdentity   NodeIdentity
	ObservedRadius uint256.Int
	ObservedAt     time.Time
}

// ContentItem is one piece of content the overlay is expected to serve.
type ContentItem struct {
	ContentKey       []byte
	ContentID        uint256.Int
	OriginBlockNum   uint64
	OriginSlot       *uint64
	Subnetwork       Subnetwork
	FirstAvailableAt time.Time
}

// AuditOutcome classifies the result of one probe.
type AuditOutcome string

const (
	OutcomeSuccess     AuditOutcome = "success"
	OutcomeFailure     AuditOutcome = "failure"
	OutcomeClientError AuditOutcome = "client_error"
	OutcomeTimeout     AuditOutcome = "timeout"
)

// FailureReason refines an AuditOutcome of Failure.
type FailureReason string

const (
	FailureNotFound      FailureReason = "not_found"
	FailureInvalidPayload FailureReason = "invalid_payload"
)

// AuditAttempt is one probe of one content item.
type AuditAttempt struct {
	ID             uuid.UUID
	ContentKey     []byte
	Strategy       string
	StartedAt      time.Time
	FinishedAt     time.Time
	Outcome        AuditOutcome
	FailureReason  FailureReason
	ClientIdentity string
	Trace          []byte // nil on Success; kept for every other outcome, including Failure(InvalidPayload)
}

// TransferFailure records one peer that returned an invalid payload during
// an audit, independent of that audit's overall outcome.
type TransferFailure struct {
	AuditAttemptID uuid.UUID
	SenderIdentity NodeIdentity
	Reason         string
}

// LatestAudit is the one-per-content materialized pointer to the audit with
// the greatest FinishedAt for that content.
type LatestAudit struct {
	ContentKey     []byte
	AuditAttemptID uuid.UUID
	FinishedAt     time.Time
	Outcome        AuditOutcome
}

// AuditStatsWindow is one rolling-window summary cell.
type AuditStatsWindow struct {
	WindowStart     time.Time
	WindowEnd       time.Time
	Subnetwork      Subnetwork
	Strategy        string
	ContentType     string
	TotalAudits     int64
	Passes          int64
	Failures        int64
	PassPercent     float64
	FailPercent     float64
	AuditsPerMinute float64
	LatencyMinMs    *float64
	LatencyMeanMs   *float64
	LatencyMedianMs *float64
	LatencyP99Ms    *float64
	LatencyMaxMs    *float64
	ErrorCount      int64
}

func hexEncode(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hextable[c>>4]
		out[i*2+1] = hextable[c&0x0f]
	}
	return string(out)
}
