package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustcenter.dev/internal/trust"
)

func TestDispatchSignsAndFansOut(t *testing.T) {
	var hits atomic.Int32
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		if !Verify("good-secret-value-123", body, r.Header.Get(SignatureHeader)) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var env Envelope
		if err := json.Unmarshal(body, &env); err != nil || env.Event != EventRequestApproved {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	store := trust.NewInMemory()
	ctx := context.Background()
	require.NoError(t, store.Webhooks().Create(ctx, &trust.Webhook{URL: good.URL, Secret: "good-secret-value-123", Events: []string{EventRequestApproved}, IsActive: true}))
	require.NoError(t, store.Webhooks().Create(ctx, &trust.Webhook{URL: bad.URL, Secret: "another-secret-value", Events: []string{"*"}, IsActive: true}))
	require.NoError(t, store.Webhooks().Create(ctx, &trust.Webhook{URL: good.URL, Secret: "x", Events: []string{EventRequestDenied}, IsActive: true}))
	require.NoError(t, store.Webhooks().Create(ctx, &trust.Webhook{URL: good.URL, Secret: "x", Events: []string{"*"}, IsActive: false}))

	d := NewDispatcher(store.Webhooks(), 0)
	out := d.Dispatch(ctx, EventRequestApproved, map[string]string{"request_id": "r1"})

	require.Len(t, out, 2)
	assert.EqualValues(t, 2, hits.Load(), "no retries and no inactive or unsubscribed hooks")
	var ok, failed int
	for _, del := range out {
		assert.NotEmpty(t, del.DeliveryID)
		if del.OK() {
			ok++
		} else {
			failed++
			assert.Equal(t, 500, del.StatusCode)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, failed)
}

func TestDispatchWithoutSubscribers(t *testing.T) {
	d := NewDispatcher(trust.NewInMemory().Webhooks(), 0)
	assert.Empty(t, d.Dispatch(context.Background(), EventRequestCreated, nil))

	var nilDispatcher *Dispatcher
	assert.Nil(t, nilDispatcher.Dispatch(context.Background(), EventRequestCreated, nil))
}

func TestSignatureIsStable(t *testing.T) {
	sig := Sign("secret", []byte(`{"a":1}`))
	assert.Equal(t, "sha256=", sig[:7])
	assert.Len(t, sig, 7+64)
	assert.True(t, Verify("secret", []byte(`{"a":1}`), sig))
	assert.False(t, Verify("other", []byte(`{"a":1}`), sig))
}

func TestRegistryValidation(t *testing.T) {
	r := NewRegistry(trust.NewInMemory().Webhooks())
	ctx := context.Background()

	_, err := r.Create(ctx, NewHook{URL: "ftp://x", Secret: "0123456789abcdef", Events: []string{"*"}})
	assert.ErrorIs(t, err, trust.ErrInvalidInput)
	_, err = r.Create(ctx, NewHook{URL: "https://hooks.acme.com/x", Secret: "short", Events: []string{"*"}})
	assert.ErrorIs(t, err, trust.ErrInvalidInput)
	_, err = r.Create(ctx, NewHook{URL: "https://hooks.acme.com/x", Secret: "0123456789abcdef", Events: []string{"made.up"}})
	assert.ErrorIs(t, err, trust.ErrInvalidInput)

	hook, err := r.Create(ctx, NewHook{URL: "https://hooks.acme.com/x", Secret: "0123456789abcdef", Events: []string{EventRequestCreated, EventRequestCreated}})
	require.NoError(t, err)
	assert.Equal(t, []string{EventRequestCreated}, hook.Events)

	list, err := r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	require.NoError(t, r.Delete(ctx, hook.ID))
	assert.ErrorIs(t, r.Delete(ctx, hook.ID), trust.ErrNotFound)
}
