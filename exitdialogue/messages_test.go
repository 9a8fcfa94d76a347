package exitdialogue

import (
	"crypto/rand"
	"testing"

	"golang.org/x/crypto/nacl/box"

	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	clientPub, clientPriv, err := box.GenerateKey(rand.Reader)
	require.NoError(t, err)
	exitPub, exitPriv, err := box.GenerateKey(rand.Reader)
	require.NoError(t, err)

	identity := ClientIdentity{WgPort: 60000}

	sealed, err := Seal(identity, clientPub, clientPriv, exitPub)
	require.NoError(t, err)

	var got ClientIdentity
	require.NoError(t, Open(sealed, exitPriv, &got))
	require.Equal(t, identity.WgPort, got.WgPort)
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	clientPub, clientPriv, err := box.GenerateKey(rand.Reader)
	require.NoError(t, err)
	exitPub, exitPriv, err := box.GenerateKey(rand.Reader)
	require.NoError(t, err)

	sealed, err := Seal(ClientIdentity{WgPort: 1}, clientPub, clientPriv, exitPub)
	require.NoError(t, err)
	sealed.Ciphertext[0] ^= 0xFF

	var got ClientIdentity
	require.Error(t, Open(sealed, exitPriv, &got))
}
