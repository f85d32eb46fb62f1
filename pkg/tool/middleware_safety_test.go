package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/excella/pkg/tool/builtin"
)

func TestPanicRecoveryReturnsFailedResult(t *testing.T) {
	exec := PanicRecovery(nil)(func(*ExecutionContext) (*builtin.Result, error) {
		panic("boom")
	})

	call := &ExecutionContext{ToolName: "apply_plan"}
	res, err := exec(call)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Equal(t, "INTERNAL", res.Code)
	assert.Equal(t, "boom", call.Metadata[MetaPanicValue])
	assert.NotEmpty(t, call.Metadata[MetaPanicStack])
}

func TestPanicRecoveryLeavesHealthyCallsAlone(t *testing.T) {
	call := &ExecutionContext{ToolName: "read_range"}
	res, err := PanicRecovery(nil)(ok)(call)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Nil(t, call.Metadata)
}
