package client_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/custodia-go/activity"
	"github.com/custodia-labs/custodia-go/client"
	"github.com/custodia-labs/custodia-go/custodytest"
	"github.com/custodia-labs/custodia-go/stamp"
)

func newClient(t *testing.T) (*client.Client, *custodytest.Service) {
	t.Helper()
	svc := custodytest.New()
	t.Cleanup(svc.Close)

	_, priv, err := stamp.GenerateAPIKeyPair()
	require.NoError(t, err)
	stamper, err := stamp.NewAPIKeyStamperFromPrivate(priv)
	require.NoError(t, err)

	return client.New(svc.URL(), stamper), svc
}

func TestClient_SubmitCompletesImmediately(t *testing.T) {
	c, _ := newClient(t)

	act, err := c.Submit(t.Context(), "org-1", "SIGN_PAYLOAD", map[string]string{"payload": "deadbeef"})
	require.NoError(t, err)
	assert.Equal(t, activity.StatusCompleted, act.Status)
	assert.NotEmpty(t, act.Result)
}

func TestClient_SubmitNeedsConsensus(t *testing.T) {
	c, svc := newClient(t)
	svc.ScriptNext(2, activity.StatusCompleted)

	act, err := c.Submit(t.Context(), "org-1", "SIGN_PAYLOAD", nil)
	var consensus *activity.ConsensusNeededError
	require.ErrorAs(t, err, &consensus)
	assert.Equal(t, act.ID, consensus.ActivityID)
	assert.Equal(t, activity.StatusPending, consensus.Status)

	// Resume by polling until the quorum lands.
	final, err := c.WaitForActivity(t.Context(), "org-1", consensus.ActivityID,
		activity.WithInterval(5*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, activity.StatusCompleted, final.Status)
	assert.NotEmpty(t, final.Result)
}

func TestClient_SubmitRejected(t *testing.T) {
	c, svc := newClient(t)
	svc.ScriptNext(0, activity.StatusRejected)

	_, err := c.Submit(t.Context(), "org-1", "SIGN_PAYLOAD", nil)
	var failure *activity.FailureError
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, activity.StatusRejected, failure.Activity.Status)
}

func TestClient_ErrorMessageRejectsDuringPolling(t *testing.T) {
	c, svc := newClient(t)
	svc.ScriptNextError("quorum denied")

	act, err := c.Submit(t.Context(), "org-1", "SIGN_PAYLOAD", nil)
	var consensus *activity.ConsensusNeededError
	require.ErrorAs(t, err, &consensus)

	_, err = c.WaitForActivity(t.Context(), "org-1", act.ID,
		activity.WithInterval(5*time.Millisecond))
	var failure *activity.FailureError
	require.ErrorAs(t, err, &failure)
	assert.Contains(t, err.Error(), "quorum denied")
}

func TestClient_ErrorMessageRejectsOnSubmit(t *testing.T) {
	c, svc := newClient(t)
	svc.ScriptNextSubmitError("policy denied")

	// A pending submission with an error attached rejects immediately
	// instead of handing the caller a consensus error to poll on.
	_, err := c.Submit(t.Context(), "org-1", "SIGN_PAYLOAD", nil)
	var failure *activity.FailureError
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, activity.StatusPending, failure.Activity.Status)
	assert.Contains(t, err.Error(), "policy denied")
}

func TestClient_GetActivityNotFound(t *testing.T) {
	c, _ := newClient(t)

	_, err := c.GetActivity(t.Context(), "org-1", "missing")
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "not found")
}

func TestClient_InvalidStampRejected(t *testing.T) {
	svc := custodytest.New()
	t.Cleanup(svc.Close)

	c := client.New(svc.URL(), garbageStamper{})
	_, err := c.Submit(t.Context(), "org-1", "SIGN_PAYLOAD", nil)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.StatusCode)
}

// garbageStamper emits a header that no verifier accepts.
type garbageStamper struct{}

func (garbageStamper) Stamp(context.Context, string) (stamp.Stamp, error) {
	return stamp.Stamp{HeaderName: stamp.APIKeyHeader, HeaderValue: "not-a-stamp"}, nil
}
