// Package operatorcheckin defines the check-in dialogue with the fleet
// operator's server: what this router reports about itself, and what the
// operator can push back (price updates, a JSON settings merge-patch, and
// one-off remote actions). Installation/billing metadata and telemetry
// upload are out of scope (spec §1 Non-goals); only the fields that
// affect payment behavior are modeled here.
package operatorcheckin

import (
	"encoding/json"
	"fmt"

	"github.com/althea-mesh/rita/identity"
	"github.com/ethereum/go-ethereum/common"
)

// ActionKind tags which one-off remote action the operator is requesting.
type ActionKind string

const (
	ActionResetRouterPassword         ActionKind = "ResetRouterPassword"
	ActionResetWiFiPassword           ActionKind = "ResetWiFiPassword"
	ActionResetShaper                 ActionKind = "ResetShaper"
	ActionReboot                      ActionKind = "Reboot"
	ActionUpdateNow                   ActionKind = "UpdateNow"
	ActionChangeReleaseFeedAndUpdate  ActionKind = "ChangeReleaseFeedAndUpdate"
	ActionChangeOperatorAddress       ActionKind = "ChangeOperatorAddress"
)

// Action is one operator-initiated remote action. Feed is populated only
// for ActionChangeReleaseFeedAndUpdate; NewAddress only for
// ActionChangeOperatorAddress (nil clears the operator address, matching
// the original's Option<Address>). This resolves the spec's open question
// on ChangeOperatorAddress's wire shape in favor of the JSON-tagged form
// only — the original's alternate "ChangeOperatorAddress_0x..." string
// encoding is not supported.
type Action struct {
	Kind       ActionKind      `json:"kind"`
	Feed       string          `json:"feed,omitempty"`
	NewAddress *common.Address `json:"new_address,omitempty"`
}

// ShaperSettings configures the bandwidth shaper's operating envelope.
type ShaperSettings struct {
	Enabled  bool `json:"enabled"`
	MaxSpeed uint `json:"max_speed"`
	MinSpeed uint `json:"min_speed"`
}

// UpdateMessage is what the operator server returns in response to a
// CheckinMessage: updated prices, fee, and optionally a settings
// merge-patch or a one-off action.
type UpdateMessage struct {
	Relay           uint32           `json:"relay"`
	Gateway         uint32           `json:"gateway"`
	PhoneRelay      uint32           `json:"phone_relay"`
	Max             uint32           `json:"max"`
	OperatorFeeWei  string           `json:"operator_fee"`
	Warning         string           `json:"warning"`
	SystemChain     string           `json:"system_chain,omitempty"`
	WithdrawChain   string           `json:"withdraw_chain,omitempty"`
	MergeJSON       json.RawMessage  `json:"merge_json,omitempty"`
	OperatorAction  *Action          `json:"operator_action,omitempty"`
	ShaperSettings  ShaperSettings   `json:"shaper_settings"`
}

// CheckinMessage is what this router sends the operator server.
type CheckinMessage struct {
	ID              identity.Identity `json:"id"`
	OperatorAddress *common.Address   `json:"operator_address,omitempty"`
	SystemChain     string            `json:"system_chain"`
}

// rawSettings is the subset of persisted settings a merge-patch is
// allowed to touch. Fields not present in the patch are left untouched;
// fields present with an explicit null are removed, following RFC 7396
// merge-patch semantics.
type rawSettings map[string]json.RawMessage

// ApplyMergePatch merges patch (a JSON object) onto the current settings
// document current (also a JSON object), per RFC 7396 semantics, and
// returns the merged document. A key set to JSON null in patch is dropped
// from the result.
func ApplyMergePatch(current, patch json.RawMessage) (json.RawMessage, error) {
	if len(patch) == 0 {
		return current, nil
	}

	var base rawSettings
	if len(current) > 0 {
		if err := json.Unmarshal(current, &base); err != nil {
			return nil, fmt.Errorf("operatorcheckin: decoding current settings: %w", err)
		}
	}
	if base == nil {
		base = make(rawSettings)
	}

	var overlay rawSettings
	if err := json.Unmarshal(patch, &overlay); err != nil {
		return nil, fmt.Errorf("operatorcheckin: decoding merge patch: %w", err)
	}

	for k, v := range overlay {
		if string(v) == "null" {
			delete(base, k)
			continue
		}
		base[k] = v
	}

	merged, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("operatorcheckin: encoding merged settings: %w", err)
	}
	return merged, nil
}
