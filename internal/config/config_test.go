package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", c.IngestParams.Host)
	assert.Equal(t, 8000, c.IngestParams.Port)
	assert.Equal(t, int64(10*1024*1024), c.IngestParams.MaxUploadSizeBytes)

	assert.Equal(t, 5*time.Second, c.WorkerParams.PollInterval)
	assert.Equal(t, 10, c.WorkerParams.BatchSize)
	assert.Equal(t, 3, c.WorkerParams.MaxRetries)
	assert.Equal(t, 2*time.Second, c.WorkerParams.RetryDelay)
	assert.Equal(t, 600*time.Second, c.WorkerParams.StuckTimeout)

	assert.Equal(t, 2, c.VADParams.Aggressiveness)
	assert.Equal(t, 30, c.VADParams.FrameMs)

	assert.Equal(t, 12*time.Second, c.DialogueParams.SilenceGap)
	assert.Equal(t, 120*time.Second, c.DialogueParams.MaxDialogue)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9001")
	t.Setenv("POLL_INTERVAL_SEC", "2.5")
	t.Setenv("SILENCE_GAP_SEC", "8")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9001, c.IngestParams.Port)
	assert.Equal(t, 2500*time.Millisecond, c.WorkerParams.PollInterval)
	assert.Equal(t, 8*time.Second, c.DialogueParams.SilenceGap)
}

func TestLoadClampsWorkerParams(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		check func(t *testing.T, c *Config)
	}{
		{
			name: "poll interval too small",
			env:  map[string]string{"POLL_INTERVAL_SEC": "0.1"},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, time.Second, c.WorkerParams.PollInterval)
			},
		},
		{
			name: "poll interval too large",
			env:  map[string]string{"POLL_INTERVAL_SEC": "900"},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, 300*time.Second, c.WorkerParams.PollInterval)
			},
		},
		{
			name: "batch size too small",
			env:  map[string]string{"BATCH_SIZE": "0"},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, 1, c.WorkerParams.BatchSize)
			},
		},
		{
			name: "batch size too large",
			env:  map[string]string{"BATCH_SIZE": "5000"},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, 100, c.WorkerParams.BatchSize)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			c, err := Load()
			require.NoError(t, err)
			tt.check(t, c)
		})
	}
}

func TestValidateIngest(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "super-secret-admin-token")

	c, err := Load()
	require.NoError(t, err)
	assert.NoError(t, c.ValidateIngest())
}

func TestValidateIngestRequiresAdminToken(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	assert.ErrorContains(t, c.ValidateIngest(), "ADMIN_TOKEN")
}

func TestValidateWorker(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name: "defaults are valid",
		},
		{
			name:    "bad aggressiveness",
			env:     map[string]string{"VAD_AGGRESSIVENESS": "7"},
			wantErr: "VAD_AGGRESSIVENESS",
		},
		{
			name:    "bad frame length",
			env:     map[string]string{"VAD_FRAME_MS": "25"},
			wantErr: "VAD_FRAME_MS",
		},
		{
			name:    "bad silence gap",
			env:     map[string]string{"SILENCE_GAP_SEC": "0"},
			wantErr: "SILENCE_GAP_SEC",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			c, err := Load()
			require.NoError(t, err)

			err = c.ValidateWorker()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}
