package wallet

import (
	"context"
	"fmt"
)

// Service contains the wallet ledger domain logic over a Store.
type Service struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Balance returns the member's cached balance.
func (service *Service) Balance(ctx context.Context, memberID MemberID) (AmountCents, error) {
	member, err := service.store.GetMember(ctx, memberID)
	if err != nil {
		return 0, err
	}
	return member.BalanceCents, nil
}

// Debit removes funds from a member's wallet, appending one completed
// transaction and rewriting the cached balance in the same storage
// transaction. Fails with ErrInsufficientFunds when the balance cannot cover
// the amount.
func (service *Service) Debit(ctx context.Context, memberID MemberID, amount PositiveAmountCents, transactionType TransactionType, relatedRef RelatedRef, description string) (Transaction, error) {
	var appended Transaction
	operationError := func() error {
		if !transactionType.IsDebit() {
			return fmt.Errorf("%w: %s is not a debit kind", ErrInvalidTransactionType, transactionType)
		}
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			member, err := transactionStore.GetMemberForUpdate(ctx, memberID)
			if err != nil {
				return err
			}
			if !member.Active {
				return ErrMemberInactive
			}
			if member.BalanceCents.Int64() < amount.Int64() {
				return ErrInsufficientFunds
			}
			appended, err = transactionStore.InsertTransaction(ctx, TransactionInput{
				MemberID:       memberID,
				AmountCents:    amount.ToTxAmountCents().Negated(),
				Type:           transactionType,
				Status:         TxStatusCompleted,
				RelatedRef:     relatedRef,
				Description:    description,
				CreatedUnixUTC: service.nowFn(),
			})
			if err != nil {
				return err
			}
			balance, err := NewAmountCents(member.BalanceCents.Int64() - amount.Int64())
			if err != nil {
				return WrapError(operationDebit, "balance", "negative_balance", ErrInvalidBalance)
			}
			return transactionStore.UpdateMemberBalance(ctx, memberID, balance, addSpend(member.TotalSpentCents, transactionType, amount.Int64()))
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation:     operationDebit,
		MemberID:      memberID,
		TransactionID: appended.TransactionID,
		Amount:        amount.ToTxAmountCents().Negated(),
		RelatedRef:    relatedRef,
		Error:         operationError,
	})
	if operationError != nil {
		return Transaction{}, operationError
	}
	return appended, nil
}

// Credit adds funds to an active member's wallet, appending one completed
// transaction and rewriting the cached balance atomically.
func (service *Service) Credit(ctx context.Context, memberID MemberID, amount PositiveAmountCents, transactionType TransactionType, relatedRef RelatedRef, description string) (Transaction, error) {
	var appended Transaction
	operationError := func() error {
		if transactionType.IsDebit() {
			return fmt.Errorf("%w: %s is not a credit kind", ErrInvalidTransactionType, transactionType)
		}
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
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
				Type:           transactionType,
				Status:         TxStatusCompleted,
				RelatedRef:     relatedRef,
				Description:    description,
				CreatedUnixUTC: service.nowFn(),
			})
			if err != nil {
				return err
			}
			balance, err := NewAmountCents(member.BalanceCents.Int64() + amount.Int64())
			if err != nil {
				return WrapError(operationCredit, "balance", "overflow", ErrInvalidBalance)
			}
			return transactionStore.UpdateMemberBalance(ctx, memberID, balance, member.TotalSpentCents)
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation:     operationCredit,
		MemberID:      memberID,
		TransactionID: appended.TransactionID,
		Amount:        amount.ToTxAmountCents(),
		RelatedRef:    relatedRef,
		Error:         operationError,
	})
	if operationError != nil {
		return Transaction{}, operationError
	}
	return appended, nil
}

// Reverse undoes a completed transaction: the original is flipped to
// reversed and one offsetting completed transaction is appended, restoring
// the pre-operation balance exactly. A second Reverse on the same
// transaction fails with ErrNotReversible.
func (service *Service) Reverse(ctx context.Context, transactionID TransactionID) (Transaction, error) {
	var offset Transaction
	var memberID MemberID
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		original, err := transactionStore.GetTransactionForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if original.Status != TxStatusCompleted {
			return ErrNotReversible
		}
		memberID = original.MemberID
		member, err := transactionStore.GetMemberForUpdate(ctx, original.MemberID)
		if err != nil {
			return err
		}
		offsetAmount := original.AmountCents.Negated()
		balanceRaw := member.BalanceCents.Int64() + offsetAmount.Int64()
		if balanceRaw < 0 {
			return ErrInsufficientFunds
		}
		if err := transactionStore.UpdateTransactionStatus(ctx, transactionID, TxStatusCompleted, TxStatusReversed); err != nil {
			return err
		}
		offset, err = transactionStore.InsertTransaction(ctx, TransactionInput{
			MemberID:       original.MemberID,
			AmountCents:    offsetAmount,
			Type:           TxRefund,
			Status:         TxStatusCompleted,
			RelatedRef:     NewRelatedRef(transactionID.String()),
			Description:    fmt.Sprintf("reversal of %s", transactionID.String()),
			CreatedUnixUTC: service.nowFn(),
		})
		if err != nil {
			return err
		}
		balance, err := NewAmountCents(balanceRaw)
		if err != nil {
			return WrapError(operationReverse, "balance", "negative_balance", ErrInvalidBalance)
		}
		return transactionStore.UpdateMemberBalance(ctx, original.MemberID, balance, subtractSpend(member.TotalSpentCents, original.Type, original.AmountCents.Abs().Int64()))
	})
	service.logOperation(ctx, OperationLog{
		Operation:     operationReverse,
		MemberID:      memberID,
		TransactionID: transactionID,
		Amount:        offset.AmountCents,
		Error:         operationError,
	})
	if operationError != nil {
		return Transaction{}, operationError
	}
	return offset, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

// addSpend grows the lifetime-spend counter for charge-like debits.
func addSpend(totalSpent AmountCents, transactionType TransactionType, amount int64) AmountCents {
	if transactionType == TxBookingCharge || transactionType == TxFee {
		return AmountCents(totalSpent.Int64() + amount)
	}
	return totalSpent
}

// subtractSpend shrinks the lifetime-spend counter when a charge is reversed.
func subtractSpend(totalSpent AmountCents, transactionType TransactionType, amount int64) AmountCents {
	if transactionType != TxBookingCharge && transactionType != TxFee {
		return totalSpent
	}
	remaining := totalSpent.Int64() - amount
	if remaining < 0 {
		remaining = 0
	}
	return AmountCents(remaining)
}
