package httpx

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Qty int `json:"qty"`
	}
	cases := []struct {
		name  string
		input string
		ok    bool
	}{
		{"valid", `{"qty": 3}`, true},
		{"unknown field", `{"qty": 3, "extra": 1}`, false},
		{"trailing document", `{"qty": 3}{"qty": 4}`, false},
		{"not json", `qty=3`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/", strings.NewReader(tc.input))
			var got body
			err := DecodeJSON(req, &got)
			if tc.ok {
				require.NoError(t, err)
				require.Equal(t, 3, got.Qty)
				return
			}
			require.ErrorIs(t, err, ErrValidation)
		})
	}
}
