package custodytest_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/custodia-go/bundle"
	"github.com/custodia-labs/custodia-go/custodytest"
	"github.com/custodia-labs/custodia-go/stamp"
)

// postStamped signs body with a fresh API key and POSTs it.
func postStamped(t *testing.T, url string, body []byte) *http.Response {
	t.Helper()
	_, priv, err := stamp.GenerateAPIKeyPair()
	require.NoError(t, err)
	stamper, err := stamp.NewAPIKeyStamperFromPrivate(priv)
	require.NoError(t, err)
	st, err := stamper.Stamp(t.Context(), string(body))
	require.NoError(t, err)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(st.HeaderName, st.HeaderValue)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestService_IssueCredentialBundle(t *testing.T) {
	svc := custodytest.New()
	t.Cleanup(svc.Close)

	recipient, err := bundle.NewKeyPair()
	require.NoError(t, err)

	body, err := json.Marshal(map[string]string{"recipientPublicKey": recipient.PublicKeyHex()})
	require.NoError(t, err)
	resp := postStamped(t, svc.URL()+"/v1/credentials/issue", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var issued struct {
		CredentialBundle string `json:"credentialBundle"`
		PublicKey        string `json:"publicKey"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&issued))

	// The bundle decrypts to the private scalar of the announced key.
	plain, err := bundle.Decrypt(issued.CredentialBundle, recipient)
	require.NoError(t, err)
	stamper, err := stamp.NewAPIKeyStamperFromPrivate(string(plain))
	require.NoError(t, err)
	assert.Equal(t, issued.PublicKey, stamper.PublicKeyHex())
}

func TestService_RejectsUnstampedRequests(t *testing.T) {
	svc := custodytest.New()
	t.Cleanup(svc.Close)

	resp, err := http.Post(svc.URL()+"/v1/submit", "application/json",
		bytes.NewReader([]byte(`{"organizationId":"org-1","type":"SIGN_PAYLOAD"}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestService_RejectsTamperedBody(t *testing.T) {
	svc := custodytest.New()
	t.Cleanup(svc.Close)

	body := []byte(`{"organizationId":"org-1","type":"SIGN_PAYLOAD"}`)
	_, priv, err := stamp.GenerateAPIKeyPair()
	require.NoError(t, err)
	stamper, err := stamp.NewAPIKeyStamperFromPrivate(priv)
	require.NoError(t, err)
	st, err := stamper.Stamp(t.Context(), string(body))
	require.NoError(t, err)

	// Stamp over one body, send another.
	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost,
		svc.URL()+"/v1/submit", bytes.NewReader([]byte(`{"organizationId":"org-2"}`)))
	require.NoError(t, err)
	req.Header.Set(st.HeaderName, st.HeaderValue)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
