package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/clubware/clubcore/pkg/wallet"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultMetadataJSON   = "{}"
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19

	errorOperationStore      = "store"
	errorSubjectMember       = "member"
	errorSubjectCourt        = "court"
	errorSubjectTransaction  = "transaction"
	errorSubjectBooking      = "booking"
	errorCodeCreate          = "create"
	errorCodeDuplicate       = "duplicate"
	errorCodeGet             = "get"
	errorCodeInsert          = "insert"
	errorCodeInvalid         = "invalid"
	errorCodeList            = "list"
	errorCodeSumSettled      = "sum_settled"
	errorCodeUpdateBalance   = "update_balance"
	errorCodeUpdateStatus    = "update_status"
	errorCodeDelete          = "delete"
	errorCodeCountOverlap    = "count_overlap"
	errorCodeReserve         = "reserve"
	errorCodeAttach          = "attach_transaction"
	errorCodeTransitionRaced = "transition_raced"
)

// ErrDuplicateRecord reports a unique-constraint violation on a bootstrap
// insert (member or court).
var ErrDuplicateRecord = errors.New("duplicate record")

// WalletStore implements wallet.Store using GORM.
type WalletStore struct {
	db *gorm.DB
}

// NewWalletStore returns a WalletStore backed by gorm.DB.
func NewWalletStore(db *gorm.DB) *WalletStore {
	return &WalletStore{db: db}
}

// WithTx executes fn within a transaction.
func (store *WalletStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wallet.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &WalletStore{db: transaction})
	})
}

func (store *WalletStore) GetMember(ctx context.Context, memberID wallet.MemberID) (wallet.Member, error) {
	return store.getMember(ctx, memberID, false)
}

func (store *WalletStore) GetMemberForUpdate(ctx context.Context, memberID wallet.MemberID) (wallet.Member, error) {
	return store.getMember(ctx, memberID, true)
}

func (store *WalletStore) getMember(ctx context.Context, memberID wallet.MemberID, lock bool) (wallet.Member, error) {
	query := store.db.WithContext(ctx)
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row Member
	err := query.Where("member_id = ?", memberID.String()).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return wallet.Member{}, wrapWalletError(errorSubjectMember, errorCodeGet, wallet.ErrMemberNotFound)
		}
		return wallet.Member{}, wrapWalletError(errorSubjectMember, errorCodeGet, err)
	}
	member, err := mapMember(row)
	if err != nil {
		return wallet.Member{}, wrapWalletError(errorSubjectMember, errorCodeInvalid, err)
	}
	return member, nil
}

func (store *WalletStore) UpdateMemberBalance(ctx context.Context, memberID wallet.MemberID, balance wallet.AmountCents, totalSpent wallet.AmountCents) error {
	result := store.db.WithContext(ctx).
		Model(&Member{}).
		Where("member_id = ?", memberID.String()).
		Updates(map[string]interface{}{
			"balance_cents":     balance.Int64(),
			"total_spent_cents": totalSpent.Int64(),
		})
	if result.Error != nil {
		return wrapWalletError(errorSubjectMember, errorCodeUpdateBalance, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapWalletError(errorSubjectMember, errorCodeUpdateBalance, wallet.ErrMemberNotFound)
	}
	return nil
}

func (store *WalletStore) InsertTransaction(ctx context.Context, input wallet.TransactionInput) (wallet.Transaction, error) {
	var relatedRef *string
	if !input.RelatedRef.IsZero() {
		value := input.RelatedRef.String()
		relatedRef = &value
	}
	var proofURL *string
	if input.ProofURL != "" {
		value := input.ProofURL
		proofURL = &value
	}
	row := WalletTransaction{
		MemberID:    input.MemberID.String(),
		AmountCents: input.AmountCents.Int64(),
		Type:        input.Type.String(),
		Status:      input.Status.String(),
		RelatedRef:  relatedRef,
		Description: input.Description,
		ProofURL:    proofURL,
		Metadata:    datatypesJSON(input.MetadataJSON.String()),
		CreatedAt:   time.Unix(input.CreatedUnixUTC, 0).UTC(),
	}
	if input.CreatedUnixUTC == 0 {
		row.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wallet.Transaction{}, wrapWalletError(errorSubjectTransaction, errorCodeInsert, err)
	}
	transaction, err := mapTransaction(row)
	if err != nil {
		return wallet.Transaction{}, wrapWalletError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return transaction, nil
}

func (store *WalletStore) GetTransactionForUpdate(ctx context.Context, transactionID wallet.TransactionID) (wallet.Transaction, error) {
	var row WalletTransaction
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("transaction_id = ?", transactionID.String()).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return wallet.Transaction{}, wrapWalletError(errorSubjectTransaction, errorCodeGet, wallet.ErrTransactionNotFound)
		}
		return wallet.Transaction{}, wrapWalletError(errorSubjectTransaction, errorCodeGet, err)
	}
	transaction, err := mapTransaction(row)
	if err != nil {
		return wallet.Transaction{}, wrapWalletError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return transaction, nil
}

func (store *WalletStore) UpdateTransactionStatus(ctx context.Context, transactionID wallet.TransactionID, from, to wallet.TransactionStatus) error {
	if !from.CanTransition(to) {
		return wrapWalletError(errorSubjectTransaction, errorCodeUpdateStatus, wallet.ErrInvalidTransactionStatus)
	}
	result := store.db.WithContext(ctx).
		Model(&WalletTransaction{}).
		Where("transaction_id = ? AND status = ?", transactionID.String(), from.String()).
		Update("status", to.String())
	if result.Error != nil {
		return wrapWalletError(errorSubjectTransaction, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapWalletError(errorSubjectTransaction, errorCodeTransitionRaced, wallet.ErrNotReversible)
	}
	return nil
}

func (store *WalletStore) ListTransactions(ctx context.Context, memberID wallet.MemberID, filter wallet.ListFilter, beforeUnixUTC int64, limit int) ([]wallet.Transaction, error) {
	before := time.Unix(beforeUnixUTC, 0).UTC()
	if beforeUnixUTC == 0 {
		before = time.Now().UTC().Add(time.Second)
	}

	query := store.db.WithContext(ctx).
		Where("member_id = ? AND created_at < ?", memberID.String(), before)
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type.String())
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status.String())
	}

	var rows []WalletTransaction
	if err := query.Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, wrapWalletError(errorSubjectTransaction, errorCodeList, err)
	}

	transactions := make([]wallet.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTransaction(row)
		if err != nil {
			return nil, wrapWalletError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

func (store *WalletStore) SumSettled(ctx context.Context, memberID wallet.MemberID) (int64, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&WalletTransaction{}).
		Select("coalesce(sum(amount_cents),0) as total").
		Where("member_id = ?", memberID.String()).
		Where("status in ?", []string{wallet.TxStatusCompleted.String(), wallet.TxStatusReversed.String()}).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapWalletError(errorSubjectTransaction, errorCodeSumSettled, err)
	}
	return sum.Total, nil
}

// CreateMember inserts a member row; not part of wallet.Store, used by the
// bootstrap surface and tests.
func (store *WalletStore) CreateMember(ctx context.Context, member *Member) error {
	err := store.db.WithContext(ctx).Create(member).Error
	if isUniqueViolation(err) {
		return wrapWalletError(errorSubjectMember, errorCodeDuplicate, ErrDuplicateRecord)
	}
	if err != nil {
		return wrapWalletError(errorSubjectMember, errorCodeCreate, err)
	}
	return nil
}

func wrapWalletError(subject string, code string, err error) error {
	return wallet.WrapError(errorOperationStore, subject, code, err)
}

type sqlSum struct {
	Total int64
}

func mapMember(row Member) (wallet.Member, error) {
	memberID, err := wallet.NewMemberID(row.MemberID)
	if err != nil {
		return wallet.Member{}, err
	}
	balance, err := wallet.NewAmountCents(row.BalanceCents)
	if err != nil {
		return wallet.Member{}, err
	}
	totalSpent, err := wallet.NewAmountCents(row.TotalSpentCents)
	if err != nil {
		return wallet.Member{}, err
	}
	return wallet.Member{
		MemberID:        memberID,
		DisplayName:     row.DisplayName,
		BalanceCents:    balance,
		TotalSpentCents: totalSpent,
		Tier:            row.Tier,
		Active:          row.Active,
	}, nil
}

func mapTransaction(row WalletTransaction) (wallet.Transaction, error) {
	transactionID, err := wallet.NewTransactionID(row.TransactionID)
	if err != nil {
		return wallet.Transaction{}, err
	}
	memberID, err := wallet.NewMemberID(row.MemberID)
	if err != nil {
		return wallet.Transaction{}, err
	}
	amount, err := wallet.NewTxAmountCents(row.AmountCents)
	if err != nil {
		return wallet.Transaction{}, err
	}
	transactionType, err := wallet.ParseTransactionType(row.Type)
	if err != nil {
		return wallet.Transaction{}, err
	}
	status, err := wallet.ParseTransactionStatus(row.Status)
	if err != nil {
		return wallet.Transaction{}, err
	}
	metadata, err := wallet.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return wallet.Transaction{}, err
	}
	transaction := wallet.Transaction{
		TransactionID:  transactionID,
		MemberID:       memberID,
		AmountCents:    amount,
		Type:           transactionType,
		Status:         status,
		Description:    row.Description,
		MetadataJSON:   metadata,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}
	if row.RelatedRef != nil {
		transaction.RelatedRef = wallet.NewRelatedRef(*row.RelatedRef)
	}
	if row.ProofURL != nil {
		transaction.ProofURL = *row.ProofURL
	}
	return transaction, nil
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
