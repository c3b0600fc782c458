// Package audit appends hash-chained records of every ledger mutation.
// Each row binds to its predecessor by hash, so any row whose recomputed
// hash or prev_hash disagrees with what's stored marks the chain broken
// from that point forward. This gives tamper-evidence, not proof of
// origin: nothing here authenticates who made a change, only whether the
// recorded history has been altered since.
package audit

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/aristath/orderledger/internal/domain"
	"github.com/aristath/orderledger/internal/modules/ledger"
)

// Logger appends audit rows inside a caller-managed transaction.
type Logger struct {
	repo *ledger.Repository
}

// NewLogger constructs a Logger bound to the ledger repository.
func NewLogger(repo *ledger.Repository) *Logger {
	return &Logger{repo: repo}
}

// execer mirrors ledger.Repository's execer so callers can pass either a
// *sql.DB or an in-flight *sql.Tx.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// Log appends one entry to the chain: it reads the current tail hash,
// computes this row's hash over a canonical JSON payload, and inserts the
// row with both hashes set. Must run inside the same transaction as the
// mutation it is documenting.
func (l *Logger) Log(exec execer, actorID, targetID int64, action domain.AuditAction, description string, details map[string]interface{}) error {
	prevHash, err := l.repo.LastAuditHash(exec)
	if err != nil {
		return err
	}

	tsISO := time.Now().UTC().Format(time.RFC3339Nano)
	if details == nil {
		details = map[string]interface{}{}
	}

	payload := map[string]interface{}{
		"actor_user_id":  actorID,
		"target_user_id": targetID,
		"action":         string(action),
		"description":    description,
		"details":        details,
		"prev_hash":      nullableString(prevHash),
		"ts":             tsISO,
	}

	canonical, err := canonicalJSON(payload)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(canonical)
	hash := hex.EncodeToString(sum[:])

	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return err
	}

	entry := &domain.AuditLog{
		ActorID:     actorID,
		TargetID:    targetID,
		Action:      action,
		Description: description,
		Details:     details,
		TsISO:       tsISO,
		PrevHash:    prevHash,
		Hash:        hash,
	}
	_, err = l.repo.InsertAuditLog(exec, entry, string(detailsJSON))
	return err
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// canonicalJSON produces a deterministic encoding: object keys sorted,
// nested maps recursively normalized, so the same logical payload always
// hashes to the same digest regardless of map iteration order.
func canonicalJSON(v interface{}) ([]byte, error) {
	normalized := normalize(v)
	return json.Marshal(normalized)
}

func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(orderedMap, 0, len(keys))
		for _, k := range keys {
			out = append(out, kv{k, normalize(t[k])})
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	default:
		return t
	}
}

// orderedMap marshals as a JSON object in insertion order, which normalize
// has already sorted by key — json.Marshal on a map would re-randomize it.
type kv struct {
	Key   string
	Value interface{}
}

type orderedMap []kv

func (m orderedMap) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, pair := range m {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyJSON, err := json.Marshal(pair.Key)
		if err != nil {
			return nil, err
		}
		valJSON, err := json.Marshal(pair.Value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyJSON...)
		buf = append(buf, ':')
		buf = append(buf, valJSON...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// VerifyChain walks rows in the order given, starting from an empty
// prev_hash (so rows must begin at the first row of the chain), and returns
// the id of the first row whose hash no longer matches its recomputed
// canonical payload or whose prev_hash disagrees with the predecessor, or 0
// if the chain is intact. Exposed for maintenance tooling, not the hot path.
func VerifyChain(rows []*domain.AuditLog) int64 {
	var prevHash string
	for _, row := range rows {
		if row.PrevHash != prevHash {
			return row.ID
		}
		payload := map[string]interface{}{
			"actor_user_id":  row.ActorID,
			"target_user_id": row.TargetID,
			"action":         string(row.Action),
			"description":    row.Description,
			"details":        row.Details,
			"prev_hash":      nullableString(row.PrevHash),
			"ts":             row.TsISO,
		}
		canonical, err := canonicalJSON(payload)
		if err != nil || hashOf(canonical) != row.Hash {
			return row.ID
		}
		prevHash = row.Hash
	}
	return 0
}

func hashOf(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
