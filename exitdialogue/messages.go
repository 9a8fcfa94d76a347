// Package exitdialogue defines the registration dialogue a client
// exchanges with its selected exit, and seals the wire payloads with
// NaCl box so only the intended exit (or client) can read them. This is
// a named collaborator of ExitSwitcher (spec §4.6) carrying the payload
// required to drive registration, not itself a tick-driven component.
package exitdialogue

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/netip"

	"github.com/althea-mesh/rita/identity"
	"golang.org/x/crypto/nacl/box"
)

// State tags which phase of the registration dialogue an exit
// relationship is in, mirroring the payload each phase carries.
type State string

const (
	StateNew         State = "New"
	StateGotInfo     State = "GotInfo"
	StateRegistering State = "Registering"
	StatePending     State = "Pending"
	StateRegistered  State = "Registered"
	StateDenied      State = "Denied"
	StateDisabled    State = "Disabled"
)

// Details is what the exit publishes about itself once contacted.
type Details struct {
	ServerInternalIP netip.Addr `json:"server_internal_ip"`
	Netmask          uint8      `json:"netmask"`
	WgExitPort       uint16     `json:"wg_exit_port"`
	ExitPrice        uint64     `json:"exit_price"`
	ExitCurrency     string     `json:"exit_currency"`
	Description      string     `json:"description"`
}

// ClientDetails is what the exit assigns a specific client once
// registered.
type ClientDetails struct {
	ClientInternalIP netip.Addr `json:"client_internal_ip"`
}

// RegistrationDetails carries whatever out-of-band verification the exit
// requires (email/phone codes); all fields are optional since exits may
// require none, one, or both.
type RegistrationDetails struct {
	Email     *string `json:"email,omitempty"`
	EmailCode *string `json:"email_code,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	PhoneCode *string `json:"phone_code,omitempty"`
}

// ExitState is the client's view of one exit relationship, tagged by
// State with the payload each phase carries.
type ExitState struct {
	State           State          `json:"state"`
	GeneralDetails  *Details       `json:"general_details,omitempty"`
	OurDetails      *ClientDetails `json:"our_details,omitempty"`
	Message         string         `json:"message,omitempty"`
	EmailCode       *string        `json:"email_code,omitempty"`
	PhoneCode       *string        `json:"phone_code,omitempty"`
}

// ClientIdentity is the payload a client sends an exit to request or continue
// registration.
type ClientIdentity struct {
	WgPort     uint16               `json:"wg_port"`
	Global     identity.Identity    `json:"global"`
	RegDetails RegistrationDetails  `json:"reg_details"`
	LowBalance *bool                `json:"low_balance,omitempty"`
}

// Sealed is a NaCl box-encrypted wire payload: a 24-byte nonce plus the
// ciphertext, addressed by the sender's Curve25519 public key so the
// recipient can derive the shared key with its own private key.
type Sealed struct {
	SenderPublicKey [32]byte `json:"pubkey"`
	Nonce           [24]byte `json:"nonce"`
	Ciphertext      []byte   `json:"encrypted"`
}

// Seal JSON-encodes payload and seals it for recipientPublicKey using
// senderPrivateKey, generating a fresh random nonce.
func Seal(payload any, senderPublicKey, senderPrivateKey, recipientPublicKey *[32]byte) (Sealed, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return Sealed{}, fmt.Errorf("exitdialogue: marshaling payload: %w", err)
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return Sealed{}, fmt.Errorf("exitdialogue: generating nonce: %w", err)
	}

	ciphertext := box.Seal(nil, plaintext, &nonce, recipientPublicKey, senderPrivateKey)
	return Sealed{SenderPublicKey: *senderPublicKey, Nonce: nonce, Ciphertext: ciphertext}, nil
}

// Open verifies and decrypts s using recipientPrivateKey, then
// JSON-decodes the plaintext into out.
func Open(s Sealed, recipientPrivateKey *[32]byte, out any) error {
	plaintext, ok := box.Open(nil, s.Ciphertext, &s.Nonce, &s.SenderPublicKey, recipientPrivateKey)
	if !ok {
		return fmt.Errorf("exitdialogue: box authentication failed")
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("exitdialogue: unmarshaling plaintext: %w", err)
	}
	return nil
}
