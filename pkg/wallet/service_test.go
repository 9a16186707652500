package wallet

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestDebitAppendsCompletedTransaction(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 1000)
	service := mustNewService(test, store)
	memberID := mustMemberID(test, defaultMemberIDValue)
	amount := mustPositiveAmount(test, 400)

	appended, err := service.Debit(context.Background(), memberID, amount, TxBookingCharge, NewRelatedRef("booking-1"), "court fee")
	if err != nil {
		test.Fatalf("debit: %v", err)
	}

	if appended.AmountCents != -400 {
		test.Fatalf("expected amount -400, got %d", appended.AmountCents)
	}
	if appended.Status != TxStatusCompleted {
		test.Fatalf("expected completed, got %s", appended.Status)
	}
	member := store.mustMember(test, memberID)
	if member.BalanceCents != 600 {
		test.Fatalf("expected balance 600, got %d", member.BalanceCents)
	}
	if member.TotalSpentCents != 400 {
		test.Fatalf("expected total spent 400, got %d", member.TotalSpentCents)
	}
}

func TestDebitInsufficientFunds(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 100)
	service := mustNewService(test, store)
	memberID := mustMemberID(test, defaultMemberIDValue)

	_, err := service.Debit(context.Background(), memberID, mustPositiveAmount(test, 250), TxWithdrawal, RelatedRef{}, "")
	if !errors.Is(err, ErrInsufficientFunds) {
		test.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if len(store.order) != 0 {
		test.Fatalf("expected no transaction appended, got %d", len(store.order))
	}
	member := store.mustMember(test, memberID)
	if member.BalanceCents != 100 {
		test.Fatalf("balance changed on rejected debit: %d", member.BalanceCents)
	}
}

func TestDebitInactiveMember(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 1000)
	memberID := mustMemberID(test, defaultMemberIDValue)
	inactive := store.mustMember(test, memberID)
	inactive.Active = false
	store.members[memberID.String()] = inactive
	service := mustNewService(test, store)

	_, err := service.Debit(context.Background(), memberID, mustPositiveAmount(test, 50), TxFee, RelatedRef{}, "")
	if !errors.Is(err, ErrMemberInactive) {
		test.Fatalf("expected ErrMemberInactive, got %v", err)
	}
}

func TestDebitRejectsCreditKind(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 1000)
	service := mustNewService(test, store)
	memberID := mustMemberID(test, defaultMemberIDValue)

	_, err := service.Debit(context.Background(), memberID, mustPositiveAmount(test, 50), TxTopUp, RelatedRef{}, "")
	if !errors.Is(err, ErrInvalidTransactionType) {
		test.Fatalf("expected ErrInvalidTransactionType, got %v", err)
	}
}

func TestCreditAddsFunds(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 200)
	service := mustNewService(test, store)
	memberID := mustMemberID(test, defaultMemberIDValue)

	appended, err := service.Credit(context.Background(), memberID, mustPositiveAmount(test, 300), TxTopUp, RelatedRef{}, "cash deposit")
	if err != nil {
		test.Fatalf("credit: %v", err)
	}
	if appended.AmountCents != 300 {
		test.Fatalf("expected amount 300, got %d", appended.AmountCents)
	}
	member := store.mustMember(test, memberID)
	if member.BalanceCents != 500 {
		test.Fatalf("expected balance 500, got %d", member.BalanceCents)
	}
	if member.TotalSpentCents != 0 {
		test.Fatalf("total spent changed on credit: %d", member.TotalSpentCents)
	}
}

func TestCreditRejectsDebitKind(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 0)
	service := mustNewService(test, store)
	memberID := mustMemberID(test, defaultMemberIDValue)

	_, err := service.Credit(context.Background(), memberID, mustPositiveAmount(test, 50), TxBookingCharge, RelatedRef{}, "")
	if !errors.Is(err, ErrInvalidTransactionType) {
		test.Fatalf("expected ErrInvalidTransactionType, got %v", err)
	}
}

func TestReverseRestoresBalance(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 1000)
	service := mustNewService(test, store)
	memberID := mustMemberID(test, defaultMemberIDValue)

	charge, err := service.Debit(context.Background(), memberID, mustPositiveAmount(test, 400), TxBookingCharge, NewRelatedRef("booking-2"), "")
	if err != nil {
		test.Fatalf("debit: %v", err)
	}
	offset, err := service.Reverse(context.Background(), charge.TransactionID)
	if err != nil {
		test.Fatalf("reverse: %v", err)
	}

	if offset.Type != TxRefund {
		test.Fatalf("expected refund offset, got %s", offset.Type)
	}
	if offset.AmountCents != 400 {
		test.Fatalf("expected offset 400, got %d", offset.AmountCents)
	}
	if offset.RelatedRef.String() != charge.TransactionID.String() {
		test.Fatalf("offset does not reference the original: %s", offset.RelatedRef)
	}
	original := store.mustTransaction(test, charge.TransactionID)
	if original.Status != TxStatusReversed {
		test.Fatalf("expected reversed original, got %s", original.Status)
	}
	member := store.mustMember(test, memberID)
	if member.BalanceCents != 1000 {
		test.Fatalf("expected balance restored to 1000, got %d", member.BalanceCents)
	}
	if member.TotalSpentCents != 0 {
		test.Fatalf("expected total spent restored to 0, got %d", member.TotalSpentCents)
	}
}

func TestReverseTwiceFails(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 1000)
	service := mustNewService(test, store)
	memberID := mustMemberID(test, defaultMemberIDValue)

	charge, err := service.Debit(context.Background(), memberID, mustPositiveAmount(test, 100), TxFee, RelatedRef{}, "")
	if err != nil {
		test.Fatalf("debit: %v", err)
	}
	if _, err := service.Reverse(context.Background(), charge.TransactionID); err != nil {
		test.Fatalf("first reverse: %v", err)
	}
	_, err = service.Reverse(context.Background(), charge.TransactionID)
	if !errors.Is(err, ErrNotReversible) {
		test.Fatalf("expected ErrNotReversible, got %v", err)
	}
}

func TestReverseCreditBlockedWhenFundsSpent(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 0)
	service := mustNewService(test, store)
	memberID := mustMemberID(test, defaultMemberIDValue)

	deposit, err := service.Credit(context.Background(), memberID, mustPositiveAmount(test, 500), TxTopUp, RelatedRef{}, "")
	if err != nil {
		test.Fatalf("credit: %v", err)
	}
	if _, err := service.Debit(context.Background(), memberID, mustPositiveAmount(test, 400), TxWithdrawal, RelatedRef{}, ""); err != nil {
		test.Fatalf("debit: %v", err)
	}

	_, err = service.Reverse(context.Background(), deposit.TransactionID)
	if !errors.Is(err, ErrInsufficientFunds) {
		test.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	member := store.mustMember(test, memberID)
	if member.BalanceCents != 100 {
		test.Fatalf("balance changed on rejected reverse: %d", member.BalanceCents)
	}
}

func TestRequestTopUpLeavesBalanceUntouched(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 100)
	service := mustNewService(test, store)
	memberID := mustMemberID(test, defaultMemberIDValue)

	pending, err := service.RequestTopUp(context.Background(), memberID, mustPositiveAmount(test, 900), "https://proofs/abc.png", "bank transfer")
	if err != nil {
		test.Fatalf("request top up: %v", err)
	}
	if pending.Status != TxStatusPending {
		test.Fatalf("expected pending, got %s", pending.Status)
	}
	if pending.ProofURL != "https://proofs/abc.png" {
		test.Fatalf("unexpected proof url: %s", pending.ProofURL)
	}
	member := store.mustMember(test, memberID)
	if member.BalanceCents != 100 {
		test.Fatalf("pending top up changed the balance: %d", member.BalanceCents)
	}
}

func TestSettleTopUpApproveCreditsBalance(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 100)
	service := mustNewService(test, store)
	memberID := mustMemberID(test, defaultMemberIDValue)

	pending, err := service.RequestTopUp(context.Background(), memberID, mustPositiveAmount(test, 900), "", "")
	if err != nil {
		test.Fatalf("request top up: %v", err)
	}
	settled, err := service.SettleTopUp(context.Background(), pending.TransactionID, true)
	if err != nil {
		test.Fatalf("settle top up: %v", err)
	}
	if settled.Status != TxStatusCompleted {
		test.Fatalf("expected completed, got %s", settled.Status)
	}
	member := store.mustMember(test, memberID)
	if member.BalanceCents != 1000 {
		test.Fatalf("expected balance 1000, got %d", member.BalanceCents)
	}
}

func TestSettleTopUpRejectMarksFailed(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 100)
	service := mustNewService(test, store)
	memberID := mustMemberID(test, defaultMemberIDValue)

	pending, err := service.RequestTopUp(context.Background(), memberID, mustPositiveAmount(test, 900), "", "")
	if err != nil {
		test.Fatalf("request top up: %v", err)
	}
	settled, err := service.SettleTopUp(context.Background(), pending.TransactionID, false)
	if err != nil {
		test.Fatalf("settle top up: %v", err)
	}
	if settled.Status != TxStatusFailed {
		test.Fatalf("expected failed, got %s", settled.Status)
	}
	member := store.mustMember(test, memberID)
	if member.BalanceCents != 100 {
		test.Fatalf("rejected top up changed the balance: %d", member.BalanceCents)
	}
}

func TestSettleTopUpOnlyPendingRows(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 100)
	service := mustNewService(test, store)
	memberID := mustMemberID(test, defaultMemberIDValue)

	pending, err := service.RequestTopUp(context.Background(), memberID, mustPositiveAmount(test, 900), "", "")
	if err != nil {
		test.Fatalf("request top up: %v", err)
	}
	if _, err := service.SettleTopUp(context.Background(), pending.TransactionID, true); err != nil {
		test.Fatalf("first settle: %v", err)
	}
	_, err = service.SettleTopUp(context.Background(), pending.TransactionID, true)
	if !errors.Is(err, ErrNotSettleable) {
		test.Fatalf("expected ErrNotSettleable, got %v", err)
	}
}

func TestReconcileRepairsDriftedBalance(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 0)
	service := mustNewService(test, store)
	memberID := mustMemberID(test, defaultMemberIDValue)

	if _, err := service.Credit(context.Background(), memberID, mustPositiveAmount(test, 700), TxTopUp, RelatedRef{}, ""); err != nil {
		test.Fatalf("credit: %v", err)
	}
	drifted := store.mustMember(test, memberID)
	drifted.BalanceCents = 123
	store.members[memberID.String()] = drifted

	report, err := service.Reconcile(context.Background(), memberID)
	if err != nil {
		test.Fatalf("reconcile: %v", err)
	}
	if !report.Drifted || !report.RepairedCached {
		test.Fatalf("expected drift repair, got %+v", report)
	}
	if report.ComputedCents != 700 {
		test.Fatalf("expected computed 700, got %d", report.ComputedCents)
	}
	member := store.mustMember(test, memberID)
	if member.BalanceCents != 700 {
		test.Fatalf("expected repaired balance 700, got %d", member.BalanceCents)
	}
}

func TestReconcileHoldsAfterReverse(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 1000)
	service := mustNewService(test, store)
	memberID := mustMemberID(test, defaultMemberIDValue)

	charge, err := service.Debit(context.Background(), memberID, mustPositiveAmount(test, 300), TxBookingCharge, RelatedRef{}, "")
	if err != nil {
		test.Fatalf("debit: %v", err)
	}
	if _, err := service.Reverse(context.Background(), charge.TransactionID); err != nil {
		test.Fatalf("reverse: %v", err)
	}

	report, err := service.Reconcile(context.Background(), memberID)
	if err != nil {
		test.Fatalf("reconcile: %v", err)
	}
	if report.Drifted {
		test.Fatalf("unexpected drift after reverse: %+v", report)
	}
	if report.ComputedCents != 1000 {
		test.Fatalf("expected computed 1000, got %d", report.ComputedCents)
	}
}

func TestListTransactionsRequiresPositiveLimit(test *testing.T) {
	test.Parallel()
	store := newStubStore(test, 0)
	service := mustNewService(test, store)
	memberID := mustMemberID(test, defaultMemberIDValue)

	_, err := service.ListTransactions(context.Background(), memberID, ListFilter{}, 0, 0)
	if !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig, got %v", err)
	}
}

func TestNewServiceRequiresDependencies(test *testing.T) {
	test.Parallel()
	_, err := NewService(nil, func() int64 { return 0 })
	if !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected invalid service config error, got %v", err)
	}
	store := newStubStore(test, 0)
	_, err = NewService(store, nil)
	if !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected invalid service config error, got %v", err)
	}
}

const defaultMemberIDValue = "member-1"

type stubStore struct {
	members      map[string]Member
	transactions map[string]Transaction
	order        []string
	nextID       int

	getMemberError     error
	insertError        error
	updateBalanceError error
	updateStatusError  error
	sumError           error
}

func newStubStore(test *testing.T, initialBalance int64) *stubStore {
	test.Helper()
	memberID := mustMemberID(test, defaultMemberIDValue)
	store := &stubStore{
		members:      make(map[string]Member),
		transactions: make(map[string]Transaction),
	}
	store.members[memberID.String()] = Member{
		MemberID:     memberID,
		DisplayName:  "Stub Member",
		BalanceCents: mustAmountCents(test, initialBalance),
		Active:       true,
	}
	return store
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) GetMember(ctx context.Context, memberID MemberID) (Member, error) {
	return store.lookupMember(memberID)
}

func (store *stubStore) GetMemberForUpdate(ctx context.Context, memberID MemberID) (Member, error) {
	if store.getMemberError != nil {
		return Member{}, store.getMemberError
	}
	return store.lookupMember(memberID)
}

func (store *stubStore) lookupMember(memberID MemberID) (Member, error) {
	member, ok := store.members[memberID.String()]
	if !ok {
		return Member{}, ErrMemberNotFound
	}
	return member, nil
}

func (store *stubStore) UpdateMemberBalance(ctx context.Context, memberID MemberID, balance AmountCents, totalSpent AmountCents) error {
	if store.updateBalanceError != nil {
		return store.updateBalanceError
	}
	member, ok := store.members[memberID.String()]
	if !ok {
		return ErrMemberNotFound
	}
	member.BalanceCents = balance
	member.TotalSpentCents = totalSpent
	store.members[memberID.String()] = member
	return nil
}

func (store *stubStore) InsertTransaction(ctx context.Context, input TransactionInput) (Transaction, error) {
	if store.insertError != nil {
		return Transaction{}, store.insertError
	}
	store.nextID++
	transactionID, err := NewTransactionID(fmt.Sprintf("tx-%d", store.nextID))
	if err != nil {
		return Transaction{}, err
	}
	appended := Transaction{
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
	}
	store.transactions[transactionID.String()] = appended
	store.order = append(store.order, transactionID.String())
	return appended, nil
}

func (store *stubStore) GetTransactionForUpdate(ctx context.Context, transactionID TransactionID) (Transaction, error) {
	transaction, ok := store.transactions[transactionID.String()]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return transaction, nil
}

func (store *stubStore) UpdateTransactionStatus(ctx context.Context, transactionID TransactionID, from, to TransactionStatus) error {
	if store.updateStatusError != nil {
		return store.updateStatusError
	}
	transaction, ok := store.transactions[transactionID.String()]
	if !ok {
		return ErrTransactionNotFound
	}
	if transaction.Status != from {
		return ErrNotReversible
	}
	transaction.Status = to
	store.transactions[transactionID.String()] = transaction
	return nil
}

func (store *stubStore) ListTransactions(ctx context.Context, memberID MemberID, filter ListFilter, beforeUnixUTC int64, limit int) ([]Transaction, error) {
	var out []Transaction
	for _, id := range store.order {
		transaction := store.transactions[id]
		if transaction.MemberID != memberID {
			continue
		}
		if filter.Type != "" && transaction.Type != filter.Type {
			continue
		}
		if filter.Status != "" && transaction.Status != filter.Status {
			continue
		}
		out = append(out, transaction)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (store *stubStore) SumSettled(ctx context.Context, memberID MemberID) (int64, error) {
	if store.sumError != nil {
		return 0, store.sumError
	}
	var sum int64
	for _, transaction := range store.transactions {
		if transaction.MemberID != memberID {
			continue
		}
		if transaction.Status != TxStatusCompleted && transaction.Status != TxStatusReversed {
			continue
		}
		sum += transaction.AmountCents.Int64()
	}
	return sum, nil
}

func (store *stubStore) mustMember(test *testing.T, memberID MemberID) Member {
	test.Helper()
	member, ok := store.members[memberID.String()]
	if !ok {
		test.Fatalf("member %s not found", memberID.String())
	}
	return member
}

func (store *stubStore) mustTransaction(test *testing.T, transactionID TransactionID) Transaction {
	test.Helper()
	transaction, ok := store.transactions[transactionID.String()]
	if !ok {
		test.Fatalf("transaction %s not found", transactionID.String())
	}
	return transaction
}

func mustNewService(test *testing.T, store Store) *Service {
	test.Helper()
	service, err := NewService(store, func() int64 { return 100 })
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustMemberID(test *testing.T, raw string) MemberID {
	test.Helper()
	value, err := NewMemberID(raw)
	if err != nil {
		test.Fatalf("member id: %v", err)
	}
	return value
}

func mustPositiveAmount(test *testing.T, raw int64) PositiveAmountCents {
	test.Helper()
	value, err := NewPositiveAmountCents(raw)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	return value
}

func mustAmountCents(test *testing.T, raw int64) AmountCents {
	test.Helper()
	value, err := NewAmountCents(raw)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	return value
}
