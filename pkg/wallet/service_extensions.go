package wallet

import (
	"context"
	"fmt"
)

// RequestTopUp appends a pending top-up carrying a payment-proof attachment.
// The balance is untouched until the top-up is settled.
func (service *Service) RequestTopUp(requestContext context.Context, memberID MemberID, amount PositiveAmountCents, proofURL string, description string) (Transaction, error) {
	var appended Transaction
	operationError := service.store.WithTx(requestContext, func(ctx context.Context, transactionStore Store) error {
		member, err := transactionStore.GetMemberForUpdate(ctx, memberID)
		if err != nil {
			return err
		}
		if !member.Active {
			return ErrMemberInactive
		}
		appended, err = transactionStore.InsertTransaction(ctx, TransactionInput{
			MemberID:       memberID,
			AmountCents:    amount.ToTxAmountCents(),
			Type:           TxTopUp,
			Status:         TxStatusPending,
			Description:    description,
			ProofURL:       proofURL,
			CreatedUnixUTC: service.nowFn(),
		})
		return err
	})
	service.logOperation(requestContext, OperationLog{
		Operation:     operationTopUp,
		MemberID:      memberID,
		TransactionID: appended.TransactionID,
		Amount:        amount.ToTxAmountCents(),
		Error:         operationError,
	})
	if operationError != nil {
		return Transaction{}, operationError
	}
	return appended, nil
}

// SettleTopUp moves a pending top-up to completed (crediting the balance) or
// failed. Only pending rows are settleable.
func (service *Service) SettleTopUp(requestContext context.Context, transactionID TransactionID, approve bool) (Transaction, error) {
	var settled Transaction
	operationError := service.store.WithTx(requestContext, func(ctx context.Context, transactionStore Store) error {
		pending, err := transactionStore.GetTransactionForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if pending.Status != TxStatusPending || pending.Type != TxTopUp {
			return ErrNotSettleable
		}
		target := TxStatusCompleted
		if !approve {
			target = TxStatusFailed
		}
		if err := transactionStore.UpdateTransactionStatus(ctx, transactionID, TxStatusPending, target); err != nil {
			return err
		}
		settled = pending
		settled.Status = target
		if !approve {
			return nil
		}
		member, err := transactionStore.GetMemberForUpdate(ctx, pending.MemberID)
		if err != nil {
			return err
		}
		balance, err := NewAmountCents(member.BalanceCents.Int64() + pending.AmountCents.Int64())
		if err != nil {
			return WrapError(operationSettle, "balance", "overflow", ErrInvalidBalance)
		}
		return transactionStore.UpdateMemberBalance(ctx, pending.MemberID, balance, member.TotalSpentCents)
	})
	service.logOperation(requestContext, OperationLog{
		Operation:     operationSettle,
		TransactionID: transactionID,
		Amount:        settled.AmountCents,
		MemberID:      settled.MemberID,
		Error:         operationError,
	})
	if operationError != nil {
		return Transaction{}, operationError
	}
	return settled, nil
}

// ListTransactions lists a member's ledger rows before a cutoff time.
func (service *Service) ListTransactions(requestContext context.Context, memberID MemberID, filter ListFilter, beforeUnixUTC int64, limit int) ([]Transaction, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidServiceConfig)
	}
	return service.store.ListTransactions(requestContext, memberID, filter, beforeUnixUTC, limit)
}

// Reconcile recomputes the balance from the transaction log and, when the
// cached balance has drifted, rewrites the cache while holding the member
// row lock.
func (service *Service) Reconcile(requestContext context.Context, memberID MemberID) (ReconcileReport, error) {
	var report ReconcileReport
	operationError := service.store.WithTx(requestContext, func(ctx context.Context, transactionStore Store) error {
		member, err := transactionStore.GetMemberForUpdate(ctx, memberID)
		if err != nil {
			return err
		}
		computedRaw, err := transactionStore.SumSettled(ctx, memberID)
		if err != nil {
			return err
		}
		computed, err := NewAmountCents(computedRaw)
		if err != nil {
			return WrapError(operationReconcile, "balance", "negative_total", ErrInvalidBalance)
		}
		report = ReconcileReport{
			MemberID:      memberID,
			CachedCents:   member.BalanceCents,
			ComputedCents: computed,
			Drifted:       member.BalanceCents != computed,
		}
		if !report.Drifted {
			return nil
		}
		if err := transactionStore.UpdateMemberBalance(ctx, memberID, computed, member.TotalSpentCents); err != nil {
			return err
		}
		report.RepairedCached = true
		return nil
	})
	service.logOperation(requestContext, OperationLog{
		Operation: operationReconcile,
		MemberID:  memberID,
		Error:     operationError,
	})
	if operationError != nil {
		return ReconcileReport{}, operationError
	}
	return report, nil
}
