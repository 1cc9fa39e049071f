package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// EventVersion is the schema version of restore audit events.
const EventVersion = "1.0"

// Event is one tamper-evident record of a restore run.
type Event struct {
	Version   string    `json:"version"`
	EventType string    `json:"event_type"`
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`

	Run      RunInfo         `json:"run"`
	Buckets  []BucketVerdict `json:"buckets"`
	Producer ProducerInfo    `json:"producer"`
	Chain    ChainInfo       `json:"chain"`
}

// RunInfo identifies the run being audited.
type RunInfo struct {
	RunID       string    `json:"run_id"`
	Index       string    `json:"index"`
	Archive     string    `json:"archive"`
	RestorePath string    `json:"restore_path"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
}

// BucketVerdict is what happened to one bucket.
type BucketVerdict struct {
	Bucket    string `json:"bucket"`
	Integrity string `json:"integrity,omitempty"`
	Rebuild   string `json:"rebuild,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// ProducerInfo identifies the software that performed the run.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha"`
}

// ChainInfo links an event to the previous event of the same index.
type ChainInfo struct {
	PrevEventHash string `json:"prev_event_hash"`
	EventHash     string `json:"event_hash"`
}

// ChainKey returns the chain this event belongs to. Runs of the same
// index form one chain.
func (e *Event) ChainKey() string {
	return e.Run.Index
}

// ComputeEventHash hashes the canonical JSON of evt with the event_hash
// field cleared.
func ComputeEventHash(evt *Event) string {
	cp := *evt
	cp.Chain.EventHash = ""

	canonical, err := json.Marshal(cp)
	if err != nil {
		return ""
	}

	hash := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// SetChainHashes links the event to prevHash and computes its own hash.
func (e *Event) SetChainHashes(prevHash string) {
	e.Chain.PrevEventHash = prevHash
	e.Chain.EventHash = ComputeEventHash(e)
}

// VerifyHash reports whether the stored hash matches the content.
func (e *Event) VerifyHash() bool {
	return e.Chain.EventHash != "" && e.Chain.EventHash == ComputeEventHash(e)
}
