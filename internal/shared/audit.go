package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/kv"
)

// AuditLog represents one recorded transition.
type AuditLog struct {
	Seq      int64          `json:"seq"`
	ActorID  string         `json:"actor_id,omitempty"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Meta     map[string]any `json:"meta,omitempty"`
	At       time.Time      `json:"at"`
}

// AuditLogger appends records to the store under audit/.
type AuditLogger struct {
	store kv.Store
	now   func() time.Time
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(store kv.Store) *AuditLogger {
	return &AuditLogger{store: store, now: time.Now}
}

// Record persists the log entry. Inside an open transaction the record commits
// or rolls back together with the transition it describes.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.store == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	if log.At.IsZero() {
		log.At = l.now().UTC()
	}
	if log.ActorID == "" {
		log.ActorID = ActorFromContext(ctx)
	}
	return l.store.Update(ctx, func(ctx context.Context, tx kv.Tx) error {
		seq, err := kv.NextSequence(ctx, tx, "seq/audit")
		if err != nil {
			return err
		}
		log.Seq = seq
		return kv.PutJSON(tx, kv.Key("audit", fmt.Sprintf("%012d", seq)), log)
	})
}

// List returns audit records for entity/entityID in insertion order. Empty
// filters match everything.
func (l *AuditLogger) List(ctx context.Context, entity, entityID string) ([]AuditLog, error) {
	var out []AuditLog
	err := l.store.View(ctx, func(ctx context.Context, tx kv.Tx) error {
		logs, err := kv.ScanJSON[AuditLog](ctx, tx, "audit/")
		if err != nil {
			return err
		}
		for _, log := range logs {
			if entity != "" && log.Entity != entity {
				continue
			}
			if entityID != "" && log.EntityID != entityID {
				continue
			}
			out = append(out, log)
		}
		return nil
	})
	return out, err
}
