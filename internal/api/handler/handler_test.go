package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Rrens/lean-coffee/internal/domain"
	"github.com/Rrens/lean-coffee/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationFields(t *testing.T) {
	err := validate.Struct(domain.DeviceRegister{Token: strings.Repeat("x", 5000), Platform: "palm"})
	require.Error(t, err)

	fields := validationFields(err)
	assert.Equal(t, "must be at most 4096", fields["token"])
	assert.Equal(t, "must be one of: android ios web", fields["platform"])
}

func TestDecodePayload(t *testing.T) {
	var input domain.TopicInput

	err := decodePayload([]byte(`{"title": 42}`), &input)
	assert.ErrorIs(t, err, domain.ErrValidation)

	err = decodePayload(nil, &input)
	assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))

	require.NoError(t, decodePayload([]byte(`{"title":"Pairing"}`), &input))
	assert.Equal(t, "Pairing", input.Title)
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{name: "no origin header", allowed: nil, origin: "", want: true},
		{name: "listed origin", allowed: []string{"http://localhost:3000"}, origin: "http://localhost:3000", want: true},
		{name: "unlisted origin", allowed: []string{"http://localhost:3000"}, origin: "http://evil.test", want: false},
		{name: "wildcard", allowed: []string{"*"}, origin: "http://anything.test", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewWebSocketHandler(nil, realtime.NewHub(), realtime.DefaultOptions(), time.Second, tt.allowed)
			r := httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, h.upgrader.CheckOrigin(r))
		})
	}
}

func TestWebSocketHandler_Unauthenticated(t *testing.T) {
	h := NewWebSocketHandler(nil, realtime.NewHub(), realtime.DefaultOptions(), 0, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, defaultCommandTimeout, h.commandTimeout)
}
