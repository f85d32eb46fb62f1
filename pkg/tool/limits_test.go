package tool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/excella/pkg/approval"
	"github.com/odvcencio/excella/pkg/config"
	"github.com/odvcencio/excella/pkg/conversation"
)

func TestLimitsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Tools.Timeout = 30 * time.Second
	cfg.Tools.MaxRetries = 5

	l := LimitsFromConfig(cfg)
	assert.Equal(t, 30*time.Second, l.Deadlines.Default)
	assert.Equal(t, 5, l.Backoff.Attempts)
	assert.True(t, l.Backoff.Once["apply_plan"])
	assert.Equal(t, config.DefaultToolTimeout, LimitsFromConfig(nil).Deadlines.Default)
}

func TestWithConfigSetsModeAndValidation(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Approval.Mode = "safe"
	r := workbookRegistry(approveAll(), WithConfig(cfg))
	assert.Equal(t, approval.ModeSafe, r.Mode())

	res, err := r.Call(context.Background(), conversation.New("s1"), "", "read_range", map[string]any{"range": "!!"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "INVALID_INPUT", res.Code)
}
