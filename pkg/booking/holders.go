package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// GetHolder returns the holder record visible to the actor.
func (service *Service) GetHolder(ctx context.Context, actor Actor, holderID HolderID) (Holder, error) {
	if !canActFor(actor, holderID) {
		return Holder{}, fmt.Errorf("%w: cannot read another holder", ErrForbidden)
	}
	return service.store.GetHolder(ctx, holderID)
}

// PutHolder creates a holder or changes its role. Admin only. The
// notification address and activation token survive a role change.
func (service *Service) PutHolder(ctx context.Context, actor Actor, holderID HolderID, role Role) (Holder, error) {
	holder, operationError := service.putHolder(ctx, actor, holderID, role)
	service.logOperation(ctx, OperationLog{
		Operation: OperationPutHolder,
		HolderID:  holderID,
		Error:     operationError,
	})
	return holder, operationError
}

func (service *Service) putHolder(ctx context.Context, actor Actor, holderID HolderID, role Role) (Holder, error) {
	if !actor.IsAdmin() {
		return Holder{}, fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	if holderID.IsZero() {
		return Holder{}, fmt.Errorf("%w: empty value", ErrInvalidHolderID)
	}
	if _, err := ParseRole(role.String()); err != nil {
		return Holder{}, err
	}
	var saved Holder
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		holder, err := transactionStore.GetHolder(ctx, holderID)
		switch {
		case errors.Is(err, ErrUnknownHolder):
			holder = Holder{ID: holderID}
		case err != nil:
			return err
		}
		holder.Role = role
		if err := transactionStore.SaveHolder(ctx, holder); err != nil {
			return err
		}
		saved = holder
		return nil
	})
	if err != nil {
		return Holder{}, err
	}
	return saved, nil
}

// RotateActivationToken issues a fresh activation token for the holder and
// returns it in plain text. Only its hash is stored, so previous tokens stop
// matching immediately.
func (service *Service) RotateActivationToken(ctx context.Context, actor Actor, holderID HolderID) (string, error) {
	token, operationError := service.rotateActivationToken(ctx, actor, holderID)
	service.logOperation(ctx, OperationLog{
		Operation: OperationRotateToken,
		HolderID:  holderID,
		Error:     operationError,
	})
	return token, operationError
}

func (service *Service) rotateActivationToken(ctx context.Context, actor Actor, holderID HolderID) (string, error) {
	if !canActFor(actor, holderID) {
		return "", fmt.Errorf("%w: cannot rotate another holder's token", ErrForbidden)
	}
	token := uuid.NewString()
	hashed, err := HashActivationToken(token, service.tokenHashCost)
	if err != nil {
		return "", err
	}
	err = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		holder, err := transactionStore.GetHolder(ctx, holderID)
		if err != nil {
			return err
		}
		holder.ActivationTokenHash = hashed
		return transactionStore.SaveHolder(ctx, holder)
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// LinkNotificationAddress stores the chat the holder receives notifications
// in. A zero chat id unlinks the holder.
func (service *Service) LinkNotificationAddress(ctx context.Context, actor Actor, holderID HolderID, chatID int64) error {
	var operationError error
	if !canActFor(actor, holderID) {
		operationError = fmt.Errorf("%w: cannot link another holder", ErrForbidden)
	} else {
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			holder, err := transactionStore.GetHolder(ctx, holderID)
			if err != nil {
				return err
			}
			holder.TelegramChatID = chatID
			return transactionStore.SaveHolder(ctx, holder)
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation: OperationLinkAddress,
		HolderID:  holderID,
		Error:     operationError,
	})
	return operationError
}
