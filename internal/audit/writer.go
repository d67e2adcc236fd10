package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Change records a single field mutation inside an audit event.
type Change struct {
	From any `json:"from"`
	To   any `json:"to"`
}

type Context map[string]any

type originKey struct{}

// Origin carries the network metadata of the request an event was written
// under. The transport layer sets it on the context; Append records it
// verbatim alongside whatever context the caller passed.
type Origin struct {
	Address string
	Client  string
}

func WithOrigin(ctx context.Context, o Origin) context.Context {
	return context.WithValue(ctx, originKey{}, o)
}

func OriginFromContext(ctx context.Context) (Origin, bool) {
	o, ok := ctx.Value(originKey{}).(Origin)
	return o, ok
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, caseID, actorID, message string, changes map[string]Change, evtCtx Context) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if changes == nil {
		changes = map[string]Change{}
	}
	if evtCtx == nil {
		evtCtx = Context{}
	}
	if o, ok := OriginFromContext(ctx); ok {
		merged := Context{}
		for k, v := range evtCtx {
			merged[k] = v
		}
		if o.Address != "" {
			merged["origin"] = o.Address
		}
		if o.Client != "" {
			merged["client"] = o.Client
		}
		evtCtx = merged
	}
	changesData, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("marshal audit changes: %w", err)
	}
	ctxData, err := json.Marshal(evtCtx)
	if err != nil {
		return fmt.Errorf("marshal audit context: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO audit_events(ts,type,case_id,actor_id,message,changes_json,context_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(caseID), actorID, message, string(changesData), string(ctxData))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
