package telemetry

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr string
	}{
		{
			name:   "defaults are valid",
			config: NewDefaultConfig(),
		},
		{
			name:    "enabled without service name",
			config:  &Config{Enabled: true},
			wantErr: "service name is required",
		},
		{
			name:   "disabled without service name",
			config: &Config{Enabled: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewDisabled(t *testing.T) {
	tel, err := New(&Config{Enabled: false})
	require.NoError(t, err)

	assert.False(t, tel.IsEnabled())
	assert.NotNil(t, tel.Meter("test"))
	assert.NoError(t, tel.ForceFlush(context.Background()))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNewExportsToPrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()

	tel, err := New(&Config{
		ServiceName:    "nerond-test",
		ServiceVersion: "test",
		Enabled:        true,
	}, WithRegisterer(reg))
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, tel.Shutdown(context.Background()))
	}()

	assert.True(t, tel.IsEnabled())

	meter := tel.Meter("test-scope")
	counter, err := meter.Int64Counter("test_requests_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	families, err := reg.Gather()
	require.NoError(t, err)

	found := false
	for _, mf := range families {
		if mf.GetName() == "test_requests_total" {
			found = true
		}
	}
	assert.True(t, found, "counter should surface in the prometheus registry")
}

func TestShutdownMarksUnhealthy(t *testing.T) {
	reg := prometheus.NewRegistry()

	tel, err := New(&Config{
		ServiceName: "nerond-test",
		Enabled:     true,
	}, WithRegisterer(reg))
	require.NoError(t, err)

	require.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.IsEnabled())
}

func TestNilReceiver(t *testing.T) {
	var tel *Telemetry

	assert.False(t, tel.IsEnabled())
	assert.NotNil(t, tel.Meter("test"))
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.NoError(t, tel.ForceFlush(context.Background()))
}
