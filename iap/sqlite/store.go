package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/code-payments/iap-coordinator/iap"
)

const transactionTable = "iap_transactions"

const schema = `
CREATE TABLE IF NOT EXISTS ` + transactionTable + ` (
	correlation_id        TEXT PRIMARY KEY,
	native_id             TEXT UNIQUE,
	product_id            TEXT NOT NULL,
	quantity              INTEGER NOT NULL,
	application_user_name TEXT NOT NULL DEFAULT '',
	platform              INTEGER NOT NULL,
	state                 INTEGER NOT NULL,
	created_at            INTEGER NOT NULL,
	transaction_date      INTEGER NOT NULL DEFAULT 0,
	error                 TEXT,
	receipt               TEXT NOT NULL DEFAULT '',
	consumable            INTEGER NOT NULL DEFAULT 0,
	auto_consume          INTEGER NOT NULL DEFAULT 0,
	acknowledged          INTEGER NOT NULL DEFAULT 0,
	consumed              INTEGER NOT NULL DEFAULT 0,
	restored              INTEGER NOT NULL DEFAULT 0,
	attempt               INTEGER NOT NULL DEFAULT 0
)`

const allColumns = `correlation_id, native_id, product_id, quantity, application_user_name, platform, state,
	created_at, transaction_date, error, receipt, consumable, auto_consume, acknowledged, consumed, restored, attempt`

type transactionModel struct {
	CorrelationID       string         `db:"correlation_id"`
	NativeID            sql.NullString `db:"native_id"`
	ProductID           string         `db:"product_id"`
	Quantity            int            `db:"quantity"`
	ApplicationUserName string         `db:"application_user_name"`
	Platform            int            `db:"platform"`
	State               int            `db:"state"`
	CreatedAt           int64          `db:"created_at"`
	TransactionDate     int64          `db:"transaction_date"`
	Error               sql.NullString `db:"error"`
	Receipt             string         `db:"receipt"`
	Consumable          bool           `db:"consumable"`
	AutoConsume         bool           `db:"auto_consume"`
	Acknowledged        bool           `db:"acknowledged"`
	Consumed            bool           `db:"consumed"`
	Restored            bool           `db:"restored"`
	Attempt             int            `db:"attempt"`
}

// store journals the active transaction set so that a purchase whose finish
// failed is still retryable after the process restarts.
type store struct {
	db *sqlx.DB
}

// Open opens (or creates) the journal at path. Use ":memory:" for a
// process-local journal.
func Open(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open transaction journal")
	}

	// SQLite serializes writers anyway, and an in-memory database only exists
	// on the connection that created it.
	db.SetMaxOpenConns(1)
	return db, nil
}

func NewInSQLite(ctx context.Context, db *sqlx.DB) (iap.Store, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, errors.Wrap(err, "failed to apply transaction journal schema")
	}
	return &store{db: db}, nil
}

func (s *store) reset() {
	_, err := s.db.Exec(`DELETE FROM ` + transactionTable)
	if err != nil {
		panic(err)
	}
}

func (s *store) CreateTransaction(ctx context.Context, txn *iap.Transaction) error {
	m, err := toModel(txn)
	if err != nil {
		return err
	}

	_, err = s.db.NamedExecContext(ctx, `INSERT INTO `+transactionTable+` (`+allColumns+`)
		VALUES (:correlation_id, :native_id, :product_id, :quantity, :application_user_name, :platform, :state,
			:created_at, :transaction_date, :error, :receipt, :consumable, :auto_consume, :acknowledged, :consumed, :restored, :attempt)`, m)
	if isConstraintError(err) {
		return iap.ErrExists
	}
	return err
}

func (s *store) GetTransaction(ctx context.Context, correlationID string) (*iap.Transaction, error) {
	var m transactionModel
	query := `SELECT ` + allColumns + ` FROM ` + transactionTable + ` WHERE correlation_id = ?`
	err := s.db.GetContext(ctx, &m, query, correlationID)
	if err == sql.ErrNoRows {
		return nil, iap.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return fromModel(&m)
}

func (s *store) GetTransactionByNativeID(ctx context.Context, id string) (*iap.Transaction, error) {
	var m transactionModel
	query := `SELECT ` + allColumns + ` FROM ` + transactionTable + ` WHERE native_id = ?`
	err := s.db.GetContext(ctx, &m, query, id)
	if err == sql.ErrNoRows {
		return nil, iap.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return fromModel(&m)
}

func (s *store) UpdateTransaction(ctx context.Context, txn *iap.Transaction) error {
	m, err := toModel(txn)
	if err != nil {
		return err
	}

	res, err := s.db.NamedExecContext(ctx, `UPDATE `+transactionTable+` SET
			native_id = :native_id,
			product_id = :product_id,
			quantity = :quantity,
			application_user_name = :application_user_name,
			platform = :platform,
			state = :state,
			transaction_date = :transaction_date,
			error = :error,
			receipt = :receipt,
			consumable = :consumable,
			auto_consume = :auto_consume,
			acknowledged = :acknowledged,
			consumed = :consumed,
			restored = :restored,
			attempt = :attempt
		WHERE correlation_id = :correlation_id`, m)
	if isConstraintError(err) {
		return iap.ErrExists
	} else if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return iap.ErrNotFound
	}
	return nil
}

func (s *store) DeleteTransaction(ctx context.Context, correlationID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+transactionTable+` WHERE correlation_id = ?`, correlationID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return iap.ErrNotFound
	}
	return nil
}

func (s *store) ListTransactions(ctx context.Context) ([]*iap.Transaction, error) {
	var models []transactionModel
	query := `SELECT ` + allColumns + ` FROM ` + transactionTable + ` ORDER BY created_at ASC, correlation_id ASC`
	if err := s.db.SelectContext(ctx, &models, query); err != nil {
		return nil, err
	}

	txns := make([]*iap.Transaction, 0, len(models))
	for i := range models {
		txn, err := fromModel(&models[i])
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, nil
}

func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

func toModel(txn *iap.Transaction) (*transactionModel, error) {
	m := &transactionModel{
		CorrelationID:       txn.CorrelationID,
		NativeID:            sql.NullString{String: txn.ID, Valid: txn.ID != ""},
		ProductID:           txn.ProductID,
		Quantity:            txn.Quantity,
		ApplicationUserName: txn.ApplicationUserName,
		Platform:            int(txn.Platform),
		State:               int(txn.State),
		CreatedAt:           txn.CreatedAt.UnixNano(),
		Receipt:             txn.Receipt,
		Consumable:          txn.Consumable,
		AutoConsume:         txn.AutoConsume,
		Acknowledged:        txn.Acknowledged,
		Consumed:            txn.Consumed,
		Restored:            txn.Restored,
		Attempt:             txn.Attempt,
	}
	if !txn.TransactionDate.IsZero() {
		m.TransactionDate = txn.TransactionDate.UnixNano()
	}
	if txn.Err != nil {
		encoded, err := json.Marshal(txn.Err)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode transaction error")
		}
		m.Error = sql.NullString{String: string(encoded), Valid: true}
	}
	return m, nil
}

func fromModel(m *transactionModel) (*iap.Transaction, error) {
	txn := &iap.Transaction{
		ID:                  m.NativeID.String,
		CorrelationID:       m.CorrelationID,
		ProductID:           m.ProductID,
		Quantity:            m.Quantity,
		ApplicationUserName: m.ApplicationUserName,
		Platform:            iap.Platform(m.Platform),
		State:               iap.State(m.State),
		CreatedAt:           time.Unix(0, m.CreatedAt).UTC(),
		Receipt:             m.Receipt,
		Consumable:          m.Consumable,
		AutoConsume:         m.AutoConsume,
		Acknowledged:        m.Acknowledged,
		Consumed:            m.Consumed,
		Restored:            m.Restored,
		Attempt:             m.Attempt,
	}
	if m.TransactionDate != 0 {
		txn.TransactionDate = time.Unix(0, m.TransactionDate).UTC()
	}
	if m.Error.Valid {
		var decoded iap.Error
		if err := json.Unmarshal([]byte(m.Error.String), &decoded); err != nil {
			return nil, errors.Wrap(err, "failed to decode transaction error")
		}
		txn.Err = &decoded
	}
	return txn, nil
}
