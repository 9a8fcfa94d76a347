package operatorcheckin

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyMergePatchAddsAndOverwritesKeys(t *testing.T) {
	current := json.RawMessage(`{"a":1,"b":"keep"}`)
	patch := json.RawMessage(`{"a":2,"c":true}`)

	merged, err := ApplyMergePatch(current, patch)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(merged, &out))
	require.Equal(t, float64(2), out["a"])
	require.Equal(t, "keep", out["b"])
	require.Equal(t, true, out["c"])
}

func TestApplyMergePatchNullDeletesKey(t *testing.T) {
	current := json.RawMessage(`{"a":1,"b":2}`)
	patch := json.RawMessage(`{"b":null}`)

	merged, err := ApplyMergePatch(current, patch)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(merged, &out))
	require.Equal(t, float64(1), out["a"])
	_, present := out["b"]
	require.False(t, present)
}

func TestApplyMergePatchEmptyPatchIsNoop(t *testing.T) {
	current := json.RawMessage(`{"a":1}`)
	merged, err := ApplyMergePatch(current, nil)
	require.NoError(t, err)
	require.Equal(t, current, merged)
}

func TestApplyMergePatchAgainstEmptyCurrent(t *testing.T) {
	patch := json.RawMessage(`{"a":1}`)
	merged, err := ApplyMergePatch(nil, patch)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(merged, &out))
	require.Equal(t, float64(1), out["a"])
}

func TestApplyMergePatchRejectsMalformedPatch(t *testing.T) {
	_, err := ApplyMergePatch(json.RawMessage(`{}`), json.RawMessage(`not json`))
	require.Error(t, err)
}

func TestUpdateMessageRoundTripsOperatorAction(t *testing.T) {
	msg := UpdateMessage{
		OperatorAction: &Action{
			Kind: ActionChangeReleaseFeedAndUpdate,
			Feed: "stable",
		},
	}

	encoded, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded UpdateMessage
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	require.Equal(t, ActionChangeReleaseFeedAndUpdate, decoded.OperatorAction.Kind)
	require.Equal(t, "stable", decoded.OperatorAction.Feed)
}
