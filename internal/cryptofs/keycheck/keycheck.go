// Package keycheck performs cheap, local sanity checks on recipient
// strings before they are handed to the crypto subprocess. It cannot
// validate that a recipient is actually known to the keyring — only gpg
// itself can do that — but it catches the common mistake of passing an
// entire exported public key (or nothing at all) where a short key
// identifier was expected.
package keycheck

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/openpgp/armor"
)

// ValidateRecipient rejects empty/whitespace recipient strings and
// recipient strings that are themselves ASCII-armored PGP data, which
// almost certainly means the caller pasted an exported key where a
// fingerprint or email was expected.
func ValidateRecipient(recipient string) error {
	trimmed := strings.TrimSpace(recipient)
	if trimmed == "" {
		return fmt.Errorf("keycheck: empty recipient")
	}

	if strings.HasPrefix(trimmed, "-----BEGIN PGP") {
		if _, err := armor.Decode(strings.NewReader(trimmed)); err == nil {
			return fmt.Errorf("keycheck: recipient %q looks like an armored key block, not a key id", trimmed)
		}
	}
	return nil
}

// ValidateRecipients applies ValidateRecipient to every entry and
// additionally rejects an empty list, matching spec's "empty-recipient
// mount is not ready" rule at the point recipients are configured rather
// than deferring it to Engine.Ready.
func ValidateRecipients(recipients []string) error {
	if len(recipients) == 0 {
		return fmt.Errorf("keycheck: recipient list is empty")
	}
	for _, r := range recipients {
		if err := ValidateRecipient(r); err != nil {
			return err
		}
	}
	return nil
}
