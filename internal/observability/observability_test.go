package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeindex-mcp/internal/config"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"disabled needs nothing", Config{}, false},
		{"enabled without endpoint", Config{Enabled: true}, true},
		{"enabled without scheme", Config{Enabled: true, ExporterEndpoint: "collector:4318"}, true},
		{"enabled without host", Config{Enabled: true, ExporterEndpoint: "http://"}, true},
		{"enabled http", Config{Enabled: true, ExporterEndpoint: "http://collector:4318"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, defaultServiceName, tt.cfg.ServiceName)
			assert.Equal(t, 60*time.Second, tt.cfg.MetricExportInterval)
		})
	}
}

func TestFromConfig(t *testing.T) {
	_, err := FromConfig(nil)
	assert.Error(t, err)

	cfg, err := FromConfig(&config.Config{OTelServiceName: " svc ", OTelMetricExportInterval: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "svc", cfg.ServiceName)
	assert.Equal(t, time.Second, cfg.MetricExportInterval)
	assert.False(t, cfg.Enabled)
}

func TestNormalizeOTLPHTTPPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://collector:4318", "http://collector:4318/v1/metrics"},
		{"http://collector:4318/", "http://collector:4318/v1/metrics"},
		{"http://collector:4318/v1/metrics", "http://collector:4318/v1/metrics"},
		{"https://gw/otlp", "https://gw/otlp/v1/metrics"},
	}
	for _, tt := range tests {
		got, err := normalizeOTLPHTTPPath(tt.in, "v1/metrics")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := normalizeOTLPHTTPPath(" ", "/v1/traces")
	assert.Error(t, err)
}

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(context.Background(), &config.Config{})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitInvalid(t *testing.T) {
	shutdown, err := Init(context.Background(), &config.Config{OTelEnabled: true})
	assert.Error(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}
