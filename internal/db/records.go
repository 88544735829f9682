package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/CamberLoid/Amortiza/internal/logger"
)

var ErrRecordNotFound = errors.New("record not found")

const (
	// ScheduleKeys holds the JSON array of loan ids that have a schedule
	// record.
	ScheduleKeys   = "schedule_keys"
	schedulePrefix = "schedule_"

	recordsTable = "records"
	keyColumn    = "record_key"
	valueColumn  = "record_value"
	updatedAt    = "updated_at"
)

// ScheduleKey is the record key of loan id.
func ScheduleKey(id uint64) string {
	return schedulePrefix + strconv.FormatUint(id, 10)
}

// ParseScheduleKey returns the loan id of a schedule record key.
func ParseScheduleKey(key string) (uint64, bool) {
	rest, ok := strings.CutPrefix(key, schedulePrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(rest, 10, 64)
	return id, err == nil
}

// Reserved reports whether key belongs to the ledger's schedule records.
func Reserved(key string) bool {
	return strings.HasPrefix(key, schedulePrefix)
}

// ScheduleRecord is the value stored under ScheduleKey. Timestamp is in
// milliseconds.
type ScheduleRecord struct {
	Data       json.RawMessage `json:"data"`
	Timestamp  int64           `json:"timestamp"`
	Owner      string          `json:"owner"`
	LoanAmount string          `json:"loanAmount"`
	Term       string          `json:"term"`
	Status     string          `json:"status"`
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository stores opaque values by key.
type Repository struct {
	db  *sql.DB
	log *logger.Logger
}

func NewRepository(db *sql.DB, log *logger.Logger) *Repository {
	if log == nil {
		log = logger.Nop()
	}
	return &Repository{db: db, log: log}
}

func (r *Repository) Get(ctx context.Context, key string) ([]byte, error) {
	return get(ctx, r.db, key)
}

func (r *Repository) Put(ctx context.Context, key string, value []byte) error {
	return put(ctx, r.db, key, value)
}

func (r *Repository) Delete(ctx context.Context, key string) error {
	query, args, err := sq.Delete(recordsTable).Where(sq.Eq{keyColumn: key}).ToSql()
	if err != nil {
		return errors.Wrap(err, "build delete")
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrapf(err, "delete %s", key)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "delete %s", key)
	}
	if n == 0 {
		return errors.Wrapf(ErrRecordNotFound, "%s", key)
	}
	return nil
}

// Keys lists the keys starting with prefix in lexical order.
func (r *Repository) Keys(ctx context.Context, prefix string) ([]string, error) {
	b := sq.Select(keyColumn).From(recordsTable).OrderBy(keyColumn)
	if prefix != "" {
		// 0xff never occurs in UTF-8, so this is exactly the prefix range.
		b = b.Where(sq.And{sq.GtOrEq{keyColumn: prefix}, sq.Lt{keyColumn: prefix + "\xff"}})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build select keys")
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select keys")
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errors.Wrap(err, "scan key")
		}
		keys = append(keys, k)
	}
	return keys, errors.Wrap(rows.Err(), "iterate keys")
}

// PutSchedule writes the record of loan id and adds id to ScheduleKeys in
// one transaction.
func (r *Repository) PutSchedule(ctx context.Context, id uint64, rec ScheduleRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshal schedule record")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	if err := put(ctx, tx, ScheduleKey(id), value); err != nil {
		return err
	}
	ids, err := scheduleIDs(ctx, tx)
	if err != nil {
		return err
	}
	if !contains(ids, id) {
		keys, err := json.Marshal(append(ids, id))
		if err != nil {
			return errors.Wrap(err, "marshal schedule keys")
		}
		if err := put(ctx, tx, ScheduleKeys, keys); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	r.log.Debug().Uint64("loan", id).Str("status", rec.Status).Msg("schedule record written")
	return nil
}

// Schedule reads the record of loan id.
func (r *Repository) Schedule(ctx context.Context, id uint64) (ScheduleRecord, error) {
	raw, err := r.Get(ctx, ScheduleKey(id))
	if err != nil {
		return ScheduleRecord{}, err
	}
	var rec ScheduleRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return ScheduleRecord{}, errors.Wrapf(err, "decode %s", ScheduleKey(id))
	}
	return rec, nil
}

// ScheduleIDs returns the content of ScheduleKeys, empty if it is unset.
func (r *Repository) ScheduleIDs(ctx context.Context) ([]uint64, error) {
	return scheduleIDs(ctx, r.db)
}

func get(ctx context.Context, q queryer, key string) ([]byte, error) {
	query, args, err := sq.Select(valueColumn).From(recordsTable).Where(sq.Eq{keyColumn: key}).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build select")
	}
	var value []byte
	err = q.QueryRowContext(ctx, query, args...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrRecordNotFound, "%s", key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "select %s", key)
	}
	return value, nil
}

func put(ctx context.Context, q queryer, key string, value []byte) error {
	query, args, err := sq.Insert(recordsTable).
		Columns(keyColumn, valueColumn, updatedAt).
		Values(key, value, time.Now().UnixMilli()).
		Suffix("ON CONFLICT(" + keyColumn + ") DO UPDATE SET " +
			valueColumn + " = excluded." + valueColumn + ", " +
			updatedAt + " = excluded." + updatedAt).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "build upsert")
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrapf(err, "upsert %s", key)
	}
	return nil
}

func scheduleIDs(ctx context.Context, q queryer) ([]uint64, error) {
	raw, err := get(ctx, q, ScheduleKeys)
	if errors.Is(err, ErrRecordNotFound) {
		return []uint64{}, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []uint64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, errors.Wrapf(err, "decode %s", ScheduleKeys)
	}
	return ids, nil
}

func contains(ids []uint64, id uint64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
