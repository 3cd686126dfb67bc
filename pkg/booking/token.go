package booking

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HolderTokenVerifier checks activation tokens against the bcrypt hash
// stored on the holder record.
type HolderTokenVerifier struct {
	store Store
}

// NewHolderTokenVerifier returns a verifier reading holders from store.
func NewHolderTokenVerifier(store Store) *HolderTokenVerifier {
	return &HolderTokenVerifier{store: store}
}

// VerifyActivationToken reports whether token matches the holder's current token.
func (verifier *HolderTokenVerifier) VerifyActivationToken(ctx context.Context, holderID HolderID, token string) (bool, error) {
	if strings.TrimSpace(token) == "" {
		return false, nil
	}
	holder, err := verifier.store.GetHolder(ctx, holderID)
	if err != nil {
		return false, err
	}
	if holder.ActivationTokenHash == "" {
		return false, nil
	}
	err = bcrypt.CompareHashAndPassword([]byte(holder.ActivationTokenHash), []byte(token))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, WrapError(errorOperationService, errorSubjectToken, errorCodeVerify, err)
	}
	return true, nil
}

// HashActivationToken returns the bcrypt hash stored for token.
func HashActivationToken(token string, cost int) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(token), cost)
	if err != nil {
		return "", WrapError(errorOperationService, errorSubjectToken, errorCodeHash, err)
	}
	return string(hashed), nil
}
