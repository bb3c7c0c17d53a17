// vault.go - passphrase-sealed storage for the long-term identity key.
// Copyright (C) 2017  David Anthony Stainton
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
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io/ioutil"
	"os"

	"github.com/magical/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	vaultSaltSize          = 8
	vaultPassphraseMinSize = 12
	vaultNonceSize         = 24
)

// vault encrypts the on-disk identity key with a passphrase-derived key.
// Adapted from the teacher's crypto vault: argon2 for key stretching,
// NaCl SecretBox for authenticated encryption.
type vault struct {
	passphrase string
	path       string
}

func (v *vault) stretch(passphrase string) ([]byte, error) {
	salt := passphrase[0:vaultSaltSize]
	pass := passphrase[vaultSaltSize:]
	par := 2
	mem := int64(1 << 16)
	keyLen := 32
	n := 32
	return argon2.Key([]byte(pass), []byte(salt), n, par, mem, keyLen)
}

func (v *vault) open() ([]byte, error) {
	base64Payload, err := ioutil.ReadFile(v.path)
	if err != nil {
		return nil, err
	}

	payloadCiphertext, err := base64.StdEncoding.DecodeString(string(base64Payload))
	if err != nil {
		return nil, err
	}
	if len(payloadCiphertext) < vaultNonceSize {
		return nil, errors.New("keystore: vault payload truncated")
	}

	var nonce [vaultNonceSize]byte
	copy(nonce[:], payloadCiphertext[0:vaultNonceSize])

	stretchedKey, err := v.stretch(v.passphrase)
	if err != nil {
		return nil, err
	}
	var key [32]byte
	copy(key[:], stretchedKey)

	ciphertext := make([]byte, len(payloadCiphertext[vaultNonceSize:]))
	copy(ciphertext, payloadCiphertext[vaultNonceSize:])

	plaintext, isAuthed := secretbox.Open(nil, ciphertext, &nonce, &key)
	if !isAuthed {
		return nil, errors.New("keystore: vault MAC verification failed")
	}
	return plaintext, nil
}

func (v *vault) seal(plaintext []byte) error {
	stretchedKey, err := v.stretch(v.passphrase)
	if err != nil {
		return err
	}
	var sealKey [32]byte
	copy(sealKey[:], stretchedKey)

	var nonce [vaultNonceSize]byte
	if _, err := rand.Reader.Read(nonce[:]); err != nil {
		return err
	}

	ciphertext := secretbox.Seal(nil, plaintext, &nonce, &sealKey)

	payload := make([]byte, len(ciphertext)+vaultNonceSize)
	copy(payload, nonce[:])
	copy(payload[vaultNonceSize:], ciphertext)
	encoded := base64.StdEncoding.EncodeToString(payload)

	return ioutil.WriteFile(v.path, []byte(encoded), os.FileMode(0600))
}
