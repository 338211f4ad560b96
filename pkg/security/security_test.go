package security

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskAddress(t *testing.T) {
	assert.Equal(t, "", MaskAddress(""))
	assert.Equal(t, "*****", MaskAddress("TX123"))
	assert.Equal(t, "0x5290...9EE7", MaskAddress("0x52908400098527886E0F7030069857D2E4169EE7"))
	assert.Equal(t, "TQn9Y2...bN3x", MaskAddress("TQn9Y2khEsLJW1ChVWFMSMeRDow5KcbN3x"))
}

func TestMaskString(t *testing.T) {
	in := "payout to 0x52908400098527886E0F7030069857D2E4169EE7 api_key=abcdefghijklmnopqrstu ops@example.com"
	out := MaskString(in)
	assert.NotContains(t, out, "0x52908400098527886E0F7030069857D2E4169EE7")
	assert.NotContains(t, out, "abcdefghijklmnopqrstu")
	assert.NotContains(t, out, "ops@example.com")
	assert.Contains(t, out, "@example.com")
}

func TestMaskMap(t *testing.T) {
	in := map[string]interface{}{
		"reimbursement_reason": "payout_failed",
		"payout_api_key":       "k",
		"refund_address":       "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq",
		"nested":               map[string]interface{}{"otp_code": "123456"},
		"attempts":             3,
	}
	out := MaskMap(in)
	assert.Equal(t, "payout_failed", out["reimbursement_reason"])
	assert.Equal(t, redacted, out["payout_api_key"])
	assert.Equal(t, "bc1qar...5mdq", out["refund_address"])
	assert.Equal(t, redacted, out["nested"].(map[string]interface{})["otp_code"])
	assert.Equal(t, 3, out["attempts"])
	assert.Equal(t, "k", in["payout_api_key"], "input is not modified")

	assert.Equal(t, "abcd****", MaskAPIKey("abcdefgh"))
}

func TestClientTLSConfig(t *testing.T) {
	tlsConfig, err := ClientTLSConfig{}.Build()
	require.NoError(t, err)
	assert.Nil(t, tlsConfig)

	client, err := ClientTLSConfig{}.HTTPClient(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, client.Timeout)
	assert.Nil(t, client.Transport)

	_, err = ClientTLSConfig{CertFile: "client.pem"}.Build()
	assert.ErrorContains(t, err, "together")

	badCA := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(badCA, []byte("not a cert"), 0o600))
	_, err = ClientTLSConfig{CAFile: badCA}.Build()
	assert.ErrorContains(t, err, "parse CA")

	_, err = ClientTLSConfig{CAFile: filepath.Join(t.TempDir(), "missing.pem")}.Build()
	assert.Error(t, err)
}
