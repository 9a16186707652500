package pgstore

import (
	"context"
	"errors"

	"github.com/clubware/clubcore/pkg/wallet"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	errorOperationStore     = "store"
	errorSubjectMember      = "member"
	errorSubjectTransaction = "transaction"
	errorCodeBegin          = "begin"
	errorCodeCommit         = "commit"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeSumSettled     = "sum_settled"
	errorCodeUpdateBalance  = "update_balance"
	errorCodeUpdateStatus   = "update_status"

	sqlSelectMember = `
		select member_id::text, display_name, balance_cents, total_spent_cents, tier, active
		from members
		where member_id = $1
	`

	sqlSelectMemberForUpdate = sqlSelectMember + ` for update`

	sqlUpdateMemberBalance = `
		update members
		set balance_cents = $2, total_spent_cents = $3
		where member_id = $1
	`

	sqlInsertTransaction = `
		insert into wallet_transactions(
			transaction_id, member_id, amount_cents, type, status, related_ref, description, proof_url, metadata, created_at
		)
		values(
			gen_random_uuid(), $1, $2, $3, $4,
			nullif($5,''), $6, nullif($7,''),
			coalesce(nullif($8,''),'{}')::jsonb,
			to_timestamp($9)
		)
		returning transaction_id::text
	`

	sqlSelectTransactionForUpdate = `
		select
			transaction_id::text,
			member_id::text,
			amount_cents,
			type,
			status,
			coalesce(related_ref,''),
			description,
			coalesce(proof_url,''),
			coalesce(metadata::text,'{}'),
			extract(epoch from created_at)::bigint
		from wallet_transactions
		where transaction_id = $1
		for update
	`

	sqlUpdateTransactionStatus = `
		update wallet_transactions
		set status = $3
		where transaction_id = $1 and status = $2
	`

	sqlListTransactionsBefore = `
		select
			transaction_id::text,
			member_id::text,
			amount_cents,
			type,
			status,
			coalesce(related_ref,''),
			description,
			coalesce(proof_url,''),
			coalesce(metadata::text,'{}'),
			extract(epoch from created_at)::bigint
		from wallet_transactions
		where member_id = $1
		and created_at < to_timestamp($2)
		and ($3 = '' or type = $3)
		and ($4 = '' or status = $4)
		order by created_at desc
		limit $5
	`

	sqlSumSettled = `
		select coalesce(sum(amount_cents),0) from wallet_transactions
		where member_id = $1 and status in ('completed','reversed')
	`
)

// Store implements wallet.Store using a pgx connection pool (autocommit).
type Store struct {
	pool *pgxpool.Pool
}

// TxStore implements wallet.Store for an active transaction.
type TxStore struct {
	tx pgx.Tx
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wallet.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	txStore := &TxStore{tx: tx}
	if err := fn(ctx, txStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) GetMember(ctx context.Context, memberID wallet.MemberID) (wallet.Member, error) {
	return getMember(ctx, store.pool, sqlSelectMember, memberID)
}

func (store *Store) GetMemberForUpdate(ctx context.Context, memberID wallet.MemberID) (wallet.Member, error) {
	return getMember(ctx, store.pool, sqlSelectMemberForUpdate, memberID)
}

func (store *Store) UpdateMemberBalance(ctx context.Context, memberID wallet.MemberID, balance wallet.AmountCents, totalSpent wallet.AmountCents) error {
	return updateMemberBalance(ctx, store.pool, memberID, balance, totalSpent)
}

func (store *Store) InsertTransaction(ctx context.Context, input wallet.TransactionInput) (wallet.Transaction, error) {
	return insertTransaction(ctx, store.pool, input)
}

func (store *Store) GetTransactionForUpdate(ctx context.Context, transactionID wallet.TransactionID) (wallet.Transaction, error) {
	return getTransactionForUpdate(ctx, store.pool, transactionID)
}

func (store *Store) UpdateTransactionStatus(ctx context.Context, transactionID wallet.TransactionID, from, to wallet.TransactionStatus) error {
	return updateTransactionStatus(ctx, store.pool, transactionID, from, to)
}

func (store *Store) ListTransactions(ctx context.Context, memberID wallet.MemberID, filter wallet.ListFilter, beforeUnixUTC int64, limit int) ([]wallet.Transaction, error) {
	return listTransactions(ctx, store.pool, memberID, filter, beforeUnixUTC, limit)
}

func (store *Store) SumSettled(ctx context.Context, memberID wallet.MemberID) (int64, error) {
	return sumSettled(ctx, store.pool, memberID)
}

func (txStore *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, innerStore wallet.Store) error) error {
	return fn(ctx, txStore)
}

func (txStore *TxStore) GetMember(ctx context.Context, memberID wallet.MemberID) (wallet.Member, error) {
	return getMember(ctx, txStore.tx, sqlSelectMember, memberID)
}

func (txStore *TxStore) GetMemberForUpdate(ctx context.Context, memberID wallet.MemberID) (wallet.Member, error) {
	return getMember(ctx, txStore.tx, sqlSelectMemberForUpdate, memberID)
}

func (txStore *TxStore) UpdateMemberBalance(ctx context.Context, memberID wallet.MemberID, balance wallet.AmountCents, totalSpent wallet.AmountCents) error {
	return updateMemberBalance(ctx, txStore.tx, memberID, balance, totalSpent)
}

func (txStore *TxStore) InsertTransaction(ctx context.Context, input wallet.TransactionInput) (wallet.Transaction, error) {
	return insertTransaction(ctx, txStore.tx, input)
}

func (txStore *TxStore) GetTransactionForUpdate(ctx context.Context, transactionID wallet.TransactionID) (wallet.Transaction, error) {
	return getTransactionForUpdate(ctx, txStore.tx, transactionID)
}

func (txStore *TxStore) UpdateTransactionStatus(ctx context.Context, transactionID wallet.TransactionID, from, to wallet.TransactionStatus) error {
	return updateTransactionStatus(ctx, txStore.tx, transactionID, from, to)
}

func (txStore *TxStore) ListTransactions(ctx context.Context, memberID wallet.MemberID, filter wallet.ListFilter, beforeUnixUTC int64, limit int) ([]wallet.Transaction, error) {
	return listTransactions(ctx, txStore.tx, memberID, filter, beforeUnixUTC, limit)
}

func (txStore *TxStore) SumSettled(ctx context.Context, memberID wallet.MemberID) (int64, error) {
	return sumSettled(ctx, txStore.tx, memberID)
}

// rowQuerier is the subset of pgx shared by pools and transactions.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func getMember(ctx context.Context, runner rowQuerier, query string, memberID wallet.MemberID) (wallet.Member, error) {
	row := runner.QueryRow(ctx, query, memberID.String())
	var (
		rawMemberID string
		displayName string
		balanceRaw  int64
		spentRaw    int64
		tier        int
		active      bool
	)
	if err := row.Scan(&rawMemberID, &displayName, &balanceRaw, &spentRaw, &tier, &active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return wallet.Member{}, wrapStoreError(errorSubjectMember, errorCodeGet, wallet.ErrMemberNotFound)
		}
		return wallet.Member{}, wrapStoreError(errorSubjectMember, errorCodeGet, err)
	}
	parsedMemberID, err := wallet.NewMemberID(rawMemberID)
	if err != nil {
		return wallet.Member{}, wrapStoreError(errorSubjectMember, errorCodeInvalid, err)
	}
	balance, err := wallet.NewAmountCents(balanceRaw)
	if err != nil {
		return wallet.Member{}, wrapStoreError(errorSubjectMember, errorCodeInvalid, err)
	}
	totalSpent, err := wallet.NewAmountCents(spentRaw)
	if err != nil {
		return wallet.Member{}, wrapStoreError(errorSubjectMember, errorCodeInvalid, err)
	}
	return wallet.Member{
		MemberID:        parsedMemberID,
		DisplayName:     displayName,
		BalanceCents:    balance,
		TotalSpentCents: totalSpent,
		Tier:            tier,
		Active:          active,
	}, nil
}

func updateMemberBalance(ctx context.Context, runner rowQuerier, memberID wallet.MemberID, balance wallet.AmountCents, totalSpent wallet.AmountCents) error {
	tag, err := runner.Exec(ctx, sqlUpdateMemberBalance, memberID.String(), balance.Int64(), totalSpent.Int64())
	if err != nil {
		return wrapStoreError(errorSubjectMember, errorCodeUpdateBalance, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectMember, errorCodeUpdateBalance, wallet.ErrMemberNotFound)
	}
	return nil
}

func insertTransaction(ctx context.Context, runner rowQuerier, input wallet.TransactionInput) (wallet.Transaction, error) {
	row := runner.QueryRow(ctx, sqlInsertTransaction,
		input.MemberID.String(),
		input.AmountCents.Int64(),
		input.Type.String(),
		input.Status.String(),
		input.RelatedRef.String(),
		input.Description,
		input.ProofURL,
		input.MetadataJSON.String(),
		input.CreatedUnixUTC,
	)
	var rawTransactionID string
	if err := row.Scan(&rawTransactionID); err != nil {
		return wallet.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	transactionID, err := wallet.NewTransactionID(rawTransactionID)
	if err != nil {
		return wallet.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return wallet.Transaction{
		TransactionID:  transactionID,
		MemberID:       input.MemberID,
		AmountCents:    input.AmountCents,
		Type:           input.Type,
		Status:         input.Status,
		RelatedRef:     input.RelatedRef,
		Description:    input.Description,
		ProofURL:       input.ProofURL,
		MetadataJSON:   input.MetadataJSON,
		CreatedUnixUTC: input.CreatedUnixUTC,
	}, nil
}

func getTransactionForUpdate(ctx context.Context, runner rowQuerier, transactionID wallet.TransactionID) (wallet.Transaction, error) {
	row := runner.QueryRow(ctx, sqlSelectTransactionForUpdate, transactionID.String())
	transaction, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return wallet.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, wallet.ErrTransactionNotFound)
		}
		return wallet.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, err)
	}
	return transaction, nil
}

func updateTransactionStatus(ctx context.Context, runner rowQuerier, transactionID wallet.TransactionID, from, to wallet.TransactionStatus) error {
	if !from.CanTransition(to) {
		return wrapStoreError(errorSubjectTransaction, errorCodeUpdateStatus, wallet.ErrInvalidTransactionStatus)
	}
	tag, err := runner.Exec(ctx, sqlUpdateTransactionStatus, transactionID.String(), from.String(), to.String())
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectTransaction, errorCodeUpdateStatus, wallet.ErrNotReversible)
	}
	return nil
}

func listTransactions(ctx context.Context, runner rowQuerier, memberID wallet.MemberID, filter wallet.ListFilter, beforeUnixUTC int64, limit int) ([]wallet.Transaction, error) {
	rows, err := runner.Query(ctx, sqlListTransactionsBefore,
		memberID.String(),
		beforeOrNow(beforeUnixUTC),
		string(filter.Type),
		string(filter.Status),
		limit,
	)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	defer rows.Close()

	var transactions []wallet.Transaction
	for rows.Next() {
		transaction, err := scanTransaction(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	return transactions, nil
}

func sumSettled(ctx context.Context, runner rowQuerier, memberID wallet.MemberID) (int64, error) {
	var total int64
	if err := runner.QueryRow(ctx, sqlSumSettled, memberID.String()).Scan(&total); err != nil {
		return 0, wrapStoreError(errorSubjectTransaction, errorCodeSumSettled, err)
	}
	return total, nil
}

func scanTransaction(row pgx.Row) (wallet.Transaction, error) {
	var (
		rawTransactionID string
		rawMemberID      string
		amountRaw        int64
		rawType          string
		rawStatus        string
		relatedRef       string
		description      string
		proofURL         string
		metadataRaw      string
		createdUnixUTC   int64
	)
	if err := row.Scan(&rawTransactionID, &rawMemberID, &amountRaw, &rawType, &rawStatus, &relatedRef, &description, &proofURL, &metadataRaw, &createdUnixUTC); err != nil {
		return wallet.Transaction{}, err
	}
	transactionID, err := wallet.NewTransactionID(rawTransactionID)
	if err != nil {
		return wallet.Transaction{}, err
	}
	memberID, err := wallet.NewMemberID(rawMemberID)
	if err != nil {
		return wallet.Transaction{}, err
	}
	amount, err := wallet.NewTxAmountCents(amountRaw)
	if err != nil {
		return wallet.Transaction{}, err
	}
	transactionType, err := wallet.ParseTransactionType(rawType)
	if err != nil {
		return wallet.Transaction{}, err
	}
	status, err := wallet.ParseTransactionStatus(rawStatus)
	if err != nil {
		return wallet.Transaction{}, err
	}
	metadata, err := wallet.NewMetadataJSON(metadataRaw)
	if err != nil {
		return wallet.Transaction{}, err
	}
	return wallet.Transaction{
		TransactionID:  transactionID,
		MemberID:       memberID,
		AmountCents:    amount,
		Type:           transactionType,
		Status:         status,
		RelatedRef:     wallet.NewRelatedRef(relatedRef),
		Description:    description,
		ProofURL:       proofURL,
		MetadataJSON:   metadata,
		CreatedUnixUTC: createdUnixUTC,
	}, nil
}

// maxCutoffUnixUTC is 9999-12-31T23:59:59Z, the ceiling for an unset cutoff.
const maxCutoffUnixUTC = 253402300799

func beforeOrNow(beforeUnixUTC int64) int64 {
	if beforeUnixUTC == 0 {
		return maxCutoffUnixUTC
	}
	return beforeUnixUTC
}

func wrapStoreError(subject string, code string, err error) error {
	return wallet.WrapError(errorOperationStore, subject, code, err)
}
