package otel

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/openrails-go/fleet/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

func TestStart_Disabled(t *testing.T) {
	p, err := Start(context.Background(), config.OTelConfig{}, Identity{}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Nil(t, p.LoggerProvider())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestStart_WritesRecordsWithIdentity(t *testing.T) {
	var buf bytes.Buffer
	c := config.OTelConfig{Enabled: true, ServiceName: "fleetsim", BatchTimeout: time.Second}
	p, err := Start(context.Background(), c, Identity{Role: "server", User: "alice"}, &buf)
	require.NoError(t, err)
	require.NotNil(t, p.LoggerProvider())

	logger := slog.New(otelslog.NewHandler("test", otelslog.WithLoggerProvider(p.LoggerProvider())))
	logger.Info("Trains coupled", "survivor", 3)
	require.NoError(t, p.Shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "Trains coupled")
	assert.Contains(t, out, "fleetsim")
	assert.Contains(t, out, "fleet.role")
	assert.Contains(t, out, "alice")
}

func TestStart_EnabledWithoutOutput(t *testing.T) {
	_, err := Start(context.Background(), config.OTelConfig{Enabled: true, ServiceName: "fleetsim"}, Identity{}, nil)
	assert.ErrorIs(t, err, ErrNoExporter)
}
