// keystore.go - long-term client keypair storage.
// Copyright (C) 2017  David Stainton.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package keystore

import (
	"errors"
	"os"

	"github.com/katzenpost/core/crypto/ecdh"
	"github.com/katzenpost/core/crypto/rand"
)

// ErrPassphraseTooShort is returned when the supplied passphrase is
// shorter than vaultSaltSize+vaultPassphraseMinSize, the minimum the
// vault's key-stretching step requires.
var ErrPassphraseTooShort = errors.New("keystore: passphrase too short")

// KeyStore owns the client's long-term encryption keypair, used to
// receive the ephemeral-key half of the SURB-ack / reply-key exchange
//, plus the gateway's pinned public key
// negotiated for the current rotation.
type KeyStore struct {
	identity      *ecdh.PrivateKey
	gatewayPinned *ecdh.PublicKey
}

// LoadOrGenerate loads the client's long-term private key from a
// passphrase-sealed vault at path, or generates and seals a fresh one if
// path does not yet exist.
func LoadOrGenerate(path, passphrase string) (*KeyStore, error) {
	if len(passphrase) < vaultSaltSize+vaultPassphraseMinSize {
		return nil, ErrPassphraseTooShort
	}
	v := &vault{passphrase: passphrase, path: path}

	_, err := os.Stat(path)
	switch {
	case err == nil:
		raw, err := v.open()
		if err != nil {
			return nil, err
		}
		key := new(ecdh.PrivateKey)
		key.FromBytes(raw)
		return &KeyStore{identity: key}, nil
	case os.IsNotExist(err):
		key, err := ecdh.NewKeypair(rand.Reader)
		if err != nil {
			return nil, err
		}
		if err := v.seal(key.Bytes()); err != nil {
			return nil, err
		}
		return &KeyStore{identity: key}, nil
	default:
		return nil, err
	}
}

// IdentityPrivateKey returns the client's long-term private key.
func (ks *KeyStore) IdentityPrivateKey() *ecdh.PrivateKey {
	return ks.identity
}

// IdentityPublicKey returns the client's long-term public key.
func (ks *KeyStore) IdentityPublicKey() *ecdh.PublicKey {
	return ks.identity.PublicKey()
}

// SetGatewayPinnedKey records the gateway public key pinned for the
// current rotation.
func (ks *KeyStore) SetGatewayPinnedKey(pub *ecdh.PublicKey) {
	ks.gatewayPinned = pub
}

// GatewayPinnedKey returns the currently pinned gateway public key, or
// nil if none has been negotiated yet.
func (ks *KeyStore) GatewayPinnedKey() *ecdh.PublicKey {
	return ks.gatewayPinned
}
