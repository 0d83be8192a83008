package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/finkeeper/internal/client/client"
	"github.com/dmitrijs2005/finkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/cryptox"
)

var verifierPlaintext = []byte("finkeeper")

// VaultService manages the passphrase protecting the local store.
//
// Contract:
//   - Unlock on a fresh store creates the salt and verifier and returns a
//     Sealer for the derived key.
//   - Unlock on an initialised store returns client.ErrUnauthorized when the
//     passphrase does not match.
//   - Reset forgets the salt and verifier. Sealed records become unreadable.
type VaultService interface {
	Unlock(ctx context.Context, passphrase []byte) (*cryptox.Sealer, error)
	Initialized(ctx context.Context) (bool, error)
	Reset(ctx context.Context) error
}

type vaultService struct {
	meta metadata.Repository
}

func NewVaultService(meta metadata.Repository) VaultService {
	return &vaultService{meta: meta}
}

func (v *vaultService) Initialized(ctx context.Context) (bool, error) {
	salt, err := v.meta.Get(ctx, metadata.KeyEncryptionSalt)
	if err != nil {
		return false, err
	}
	return salt != nil, nil
}

func (v *vaultService) Unlock(ctx context.Context, passphrase []byte) (*cryptox.Sealer, error) {
	salt, err := v.meta.Get(ctx, metadata.KeyEncryptionSalt)
	if err != nil {
		return nil, fmt.Errorf("reading salt: %w", err)
	}
	if salt == nil {
		return v.initialize(ctx, passphrase)
	}

	verifier, err := v.meta.Get(ctx, metadata.KeyVerifier)
	if err != nil {
		return nil, fmt.Errorf("reading verifier: %w", err)
	}
	if verifier == nil {
		return nil, client.ErrLocalDataNotAvailable
	}

	key := cryptox.DeriveKey(passphrase, salt)
	defer common.WipeByteArray(key)

	sealer, err := cryptox.NewSealer(key)
	if err != nil {
		return nil, err
	}
	if _, err := sealer.Open(verifier, []byte(metadata.KeyVerifier)); err != nil {
		return nil, client.ErrUnauthorized
	}
	return sealer, nil
}

func (v *vaultService) initialize(ctx context.Context, passphrase []byte) (*cryptox.Sealer, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("passphrase must not be empty")
	}
	salt := cryptox.NewSalt()
	key := cryptox.DeriveKey(passphrase, salt)
	defer common.WipeByteArray(key)

	sealer, err := cryptox.NewSealer(key)
	if err != nil {
		return nil, err
	}

	if err := v.meta.Set(ctx, metadata.KeyEncryptionSalt, salt); err != nil {
		return nil, fmt.Errorf("saving salt: %w", err)
	}
	verifier := sealer.Seal(verifierPlaintext, []byte(metadata.KeyVerifier))
	if err := v.meta.Set(ctx, metadata.KeyVerifier, verifier); err != nil {
		return nil, fmt.Errorf("saving verifier: %w", err)
	}
	return sealer, nil
}

func (v *vaultService) Reset(ctx context.Context) error {
	if err := v.meta.Delete(ctx, metadata.KeyEncryptionSalt); err != nil {
		return err
	}
	return v.meta.Delete(ctx, metadata.KeyVerifier)
}
