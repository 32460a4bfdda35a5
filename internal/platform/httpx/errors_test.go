package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

func TestStatusOf(t *testing.T) {
	fields := shared.FieldErrors{}
	fields.Add("lines.0.qty", "must be greater than 0")

	cases := []struct {
		err  error
		want int
	}{
		{fields.Err(), http.StatusUnprocessableEntity},
		{shared.Forbidden("approve purchase order: requires role finance"), http.StatusForbidden},
		{shared.NotFound("purchase order", 7), http.StatusNotFound},
		{fmt.Errorf("post: %w", shared.InvalidTransition("DRAFT", "SUBMITTED")), http.StatusConflict},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, StatusOf(tc.err), tc.err.Error())
	}
}

func TestRespondErrorWritesFieldErrors(t *testing.T) {
	fields := shared.FieldErrors{}
	fields.Add("lines.1.qty", "exceeds remaining quantity 2")
	rec := httptest.NewRecorder()

	RespondError(rec, fields.Err())

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, []string{"exceeds remaining quantity 2"}, body.Errors["lines.1.qty"])
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, errors.New("pq: password authentication failed"))

	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, http.StatusInternalServerError, body.Status)
	require.Empty(t, body.Detail)
}
