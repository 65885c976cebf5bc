package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Do(t *testing.T) {
	var gotAuth, gotQuery, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		if r.Body != nil {
			var body map[string]interface{}
			if json.NewDecoder(r.Body).Decode(&body) == nil {
				gotBody, _ = body["name"].(string)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte(`{"data":{"name":"control","total":2}}`))
		case "/empty":
			_, _ = w.Write([]byte(`{}`))
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not_found","message":"run not found"}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`upstream down`))
		}
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "tok", time.Second)
	ctx := context.Background()

	t.Run("unwraps data", func(t *testing.T) {
		var out struct {
			Name  string `json:"name"`
			Total int    `json:"total"`
		}
		require.NoError(t, c.Get(ctx, "/ok", url.Values{"tenant": {"acme"}}, &out))
		assert.Equal(t, "control", out.Name)
		assert.Equal(t, 2, out.Total)
		assert.Equal(t, "Bearer tok", gotAuth)
		assert.Equal(t, "tenant=acme", gotQuery)
	})

	t.Run("sends json body", func(t *testing.T) {
		require.NoError(t, c.Post(ctx, "/ok", map[string]string{"name": "exp-1"}, nil))
		assert.Equal(t, "exp-1", gotBody)
	})

	t.Run("empty envelope", func(t *testing.T) {
		var out map[string]interface{}
		require.NoError(t, c.Get(ctx, "/empty", nil, &out))
		assert.Nil(t, out)
	})

	t.Run("api error", func(t *testing.T) {
		err := c.Get(ctx, "/missing", nil, nil)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusNotFound, apiErr.Status)
		assert.Equal(t, "not_found", apiErr.Code)
		assert.Contains(t, err.Error(), "run not found")
	})

	t.Run("non json error", func(t *testing.T) {
		err := c.Delete(ctx, "/broken", nil)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusBadGateway, apiErr.Status)
		assert.Equal(t, "upstream down", apiErr.Code)
	})
}

func TestNew_DefaultBaseURL(t *testing.T) {
	assert.Equal(t, DefaultBaseURL, New("", "", time.Second).BaseURL())
}
