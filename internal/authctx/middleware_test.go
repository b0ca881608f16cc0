package authctx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-wms/meridian-wms/internal/shared"
)

type staticVerifier struct {
	token APIToken
	err   error
}

func (v staticVerifier) Verify(context.Context, string) (APIToken, error) {
	return v.token, v.err
}

func TestMiddlewareResolvesActor(t *testing.T) {
	verifier := staticVerifier{token: APIToken{UserID: 9, CompanyID: 2, WarehouseID: 4}}

	var got *shared.Actor
	handler := Middleware(verifier, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = shared.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer 1.abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, got)
	require.Equal(t, int64(9), got.UserID)
	require.Equal(t, int64(2), got.CompanyID)
	require.Equal(t, int64(4), got.WarehouseID)
}

func TestMiddlewareRejectsMissingHeader(t *testing.T) {
	handler := Middleware(staticVerifier{}, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Fatal("handler must not run")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareRejectsBadCredential(t *testing.T) {
	handler := Middleware(staticVerifier{err: ErrInvalidToken}, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Fatal("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer 1.wrong")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSplitCredential(t *testing.T) {
	id, secret, err := splitCredential("42.deadbeef")
	require.NoError(t, err)
	require.Equal(t, int64(42), id)
	require.Equal(t, "deadbeef", secret)

	_, _, err = splitCredential("deadbeef")
	require.ErrorIs(t, err, ErrInvalidToken)

	_, _, err = splitCredential("0.x")
	require.ErrorIs(t, err, ErrInvalidToken)

	_, _, err = splitCredential("42.")
	require.ErrorIs(t, err, ErrInvalidToken)
}
