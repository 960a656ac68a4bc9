package clickhouse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapDatabase(t *testing.T) {
	c := &Config{}

	assert.Equal(t, "mainnet", c.MapDatabase("mainnet"))

	t.Setenv("DQC_DATABASE_PREFIX", "test_123_")

	assert.Equal(t, "test_123_mainnet", c.MapDatabase("mainnet"))
	assert.Equal(t, "test_123_", c.MapDatabase(""))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{name: "missing url", config: Config{}, wantErr: ErrURLRequired},
		{name: "valid", config: Config{URL: "http://localhost:8123"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestConfigSetDefaults(t *testing.T) {
	c := &Config{URL: "http://localhost:8123"}
	c.SetDefaults()

	assert.Equal(t, 30*time.Second, c.QueryTimeout)
	assert.Equal(t, 30*time.Second, c.KeepAlive)

	c = &Config{QueryTimeout: time.Minute}
	c.SetDefaults()
	assert.Equal(t, time.Minute, c.QueryTimeout)
}
