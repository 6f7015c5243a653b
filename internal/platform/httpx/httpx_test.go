package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

func TestRespondErrorMapsKinds(t *testing.T) {
	cases := map[error]int{
		shared.ErrUnauthenticated: http.StatusUnauthorized,
		shared.ErrForbidden:       http.StatusForbidden,
		shared.ErrInvalidArgument: http.StatusBadRequest,
		shared.ErrNotFound:        http.StatusNotFound,
		shared.ErrConflict:        http.StatusConflict,
		shared.ErrUnavailable:     http.StatusServiceUnavailable,
		errors.New("boom"):        http.StatusInternalServerError,
	}
	for kind, status := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, nil, fmt.Errorf("profitshare: %w", kind))
		assert.Equal(t, status, rr.Code, kind.Error())

		var body ProblemDetail
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, status, body.Status)
		if status == http.StatusInternalServerError {
			assert.Empty(t, body.Detail)
		}
	}
}

type createBody struct {
	Name  string `json:"name" validate:"required"`
	Value int    `json:"value" validate:"gte=0,lte=100"`
}

func TestDecodeJSONValidates(t *testing.T) {
	var ok createBody
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a","value":35}`))
	require.NoError(t, DecodeJSON(req, &ok))
	assert.Equal(t, 35, ok.Value)

	var bad createBody
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a","value":135}`))
	require.ErrorIs(t, DecodeJSON(req, &bad), shared.ErrInvalidArgument)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a","extra":1}`))
	require.ErrorIs(t, DecodeJSON(req, &bad), shared.ErrInvalidArgument)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	require.ErrorIs(t, DecodeJSON(req, &bad), shared.ErrInvalidArgument)
}
