// recipient.go - Recipient address type and string encoding.
// Copyright (C) 2017  David Anthony Stainton, Yawning Angel
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

package addressing

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// RecipientIDLength is the fixed width of a recipient's identity digest as
// carried in a Sphinx destination command.
const RecipientIDLength = 32

// ErrMalformedRecipient is returned by ParseRecipient on malformed input.
var ErrMalformedRecipient = errors.New("addressing: malformed recipient string")

// Recipient names a client's mixnet destination: a recipient identity
// digest routed through a named gateway. It is the unit of addressing
// attached to forward fragments and embedded in reply-SURB requests.
type Recipient struct {
	ID      [RecipientIDLength]byte
	Gateway string
}

// String renders the recipient as "<hex id>@<gateway>", matching the
// "user@provider" address form used throughout the mixnet.
func (r Recipient) String() string {
	return fmt.Sprintf("%s@%s", hex.EncodeToString(r.ID[:]), r.Gateway)
}

// ParseRecipient parses the "<hex id>@<gateway>" form back into a
// Recipient.
func ParseRecipient(s string) (Recipient, error) {
	parts := strings.SplitN(s, "@", 2)
	if len(parts) != 2 || parts[1] == "" {
		return Recipient{}, ErrMalformedRecipient
	}
	raw, err := hex.DecodeString(parts[0])
	if err != nil || len(raw) != RecipientIDLength {
		return Recipient{}, ErrMalformedRecipient
	}
	var r Recipient
	copy(r.ID[:], raw)
	r.Gateway = parts[1]
	return r, nil
}
