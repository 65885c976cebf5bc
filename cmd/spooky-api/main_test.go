package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/avaprime/spooky-logic/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{"json logger", "info", "json", false},
		{"console logger", "debug", "text", false},
		{"invalid level", "loud", "json", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Observability: config.ObservabilityConfig{
				ServiceName: "spooky-logic",
				LogLevel:    tt.level,
				LogFormat:   tt.format,
			}}

			logger, err := initLogger(cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
			_ = logger.Sync()
		})
	}
}

func TestNewServer(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{
		Host:         "127.0.0.1",
		Port:         8088,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	srv := newServer(cfg, handler)

	assert.Equal(t, "127.0.0.1:8088", srv.Addr)
	assert.Equal(t, 15*time.Second, srv.ReadTimeout)
	assert.Equal(t, 30*time.Second, srv.WriteTimeout)

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
}
