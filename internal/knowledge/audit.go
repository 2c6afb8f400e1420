package knowledge

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fyrsmithlabs/opsloop/internal/fsutil"
)

// Audit actions.
const (
	ActionInject   = "inject"
	ActionRollback = "rollback"
)

// AuditRecord is one line of the audit log.
type AuditRecord struct {
	Timestamp         time.Time  `json:"timestamp"`
	Action            string     `json:"action"`
	Processed         int        `json:"processed,omitempty"`
	Skipped           int        `json:"skipped,omitempty"`
	Restored          int        `json:"restored,omitempty"`
	TotalChunks       int        `json:"totalChunks"`
	FactIDs           []string   `json:"factIds,omitempty"`
	Version           string     `json:"version,omitempty"`
	Backup            string     `json:"backup,omitempty"`
	SnapshotTimestamp *time.Time `json:"snapshotTimestamp,omitempty"`
}

func (inj *Injector) audit(rec AuditRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = inj.now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding audit record: %w", err)
	}
	if err := fsutil.AppendLine(inj.AuditPath(), data); err != nil {
		return fmt.Errorf("writing audit record: %w", err)
	}
	return nil
}

// AuditLog returns all parsable audit records in write order.
func (inj *Injector) AuditLog() ([]AuditRecord, error) {
	f, err := os.Open(inj.AuditPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	var out []AuditRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var rec AuditRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}
