package store

import (
	"encoding/json"
	"fmt"

	"layza/pkg/domain"
)

// SnapshotVersion is the current persisted-state schema version.
const SnapshotVersion = 1

// Snapshot is the durable form of the chat state. Transient flags
// (recording, in-flight sends) are deliberately excluded: they are
// meaningless across restarts.
type Snapshot struct {
	Version              int                      `json:"version"`
	Conversations        []domain.Conversation    `json:"conversations"`
	ActiveConversationID string                   `json:"activeConversationId,omitempty"`
	StudentProgress      []domain.StudentProgress `json:"studentProgress"`
	FeedbackGiven        []string                 `json:"feedbackGiven,omitempty"`
}

// Snapshotter persists the whole chat state under a fixed storage key.
type Snapshotter interface {
	Load() (Snapshot, bool, error)
	Save(Snapshot) error
}

// EncodeSnapshot serializes a snapshot, stamping the current version.
func EncodeSnapshot(snap Snapshot) ([]byte, error) {
	snap.Version = SnapshotVersion
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses a persisted snapshot, migrating older layouts.
// Version 0 is the pre-versioning layout: same fields, no version tag and
// no feedbackGiven set.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version > SnapshotVersion {
		return Snapshot{}, fmt.Errorf("snapshot version %d is newer than supported %d", snap.Version, SnapshotVersion)
	}
	snap.Version = SnapshotVersion
	return snap, nil
}
