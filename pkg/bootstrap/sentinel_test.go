package bootstrap

import (
	"testing"

	"github.com/alibaba/sentinel-golang/core/circuitbreaker"
	"github.com/alibaba/sentinel-golang/core/flow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFlowRules(t *testing.T) {
	rules := buildFlowRules([]FlowRule{
		{Resource: "POST /api/accounts/:account/withdraw", Threshold: 100, StatIntervalMs: 1000},
		{Resource: "", Threshold: 1},
		{Resource: "POST /api/accounts/:account/claim", Threshold: 10, Strategy: "warmup", WarmUpSec: 5, WarmUpColdFactor: 3, Control: "throttling", MaxQueueWaitMs: 50},
	})
	require.Len(t, rules, 2)
	assert.Equal(t, flow.Direct, rules[0].TokenCalculateStrategy)
	assert.Equal(t, flow.Reject, rules[0].ControlBehavior)
	assert.Equal(t, flow.WarmUp, rules[1].TokenCalculateStrategy)
	assert.Equal(t, flow.Throttling, rules[1].ControlBehavior)
	assert.Equal(t, uint32(50), rules[1].MaxQueueingTimeMs)
}

func TestBuildBreakerRules(t *testing.T) {
	rules := buildBreakerRules([]BreakerRule{
		{Resource: "a", Strategy: "error_count", Threshold: 5},
		{Resource: "b", Strategy: "slow_request_ratio"},
		{Resource: "c"},
	})
	require.Len(t, rules, 3)
	assert.Equal(t, circuitbreaker.ErrorCount, rules[0].Strategy)
	assert.Equal(t, circuitbreaker.SlowRequestRatio, rules[1].Strategy)
	assert.Equal(t, circuitbreaker.ErrorRatio, rules[2].Strategy)
}

func TestInitSentinel_DisabledIsNoop(t *testing.T) {
	assert.NoError(t, InitSentinel(nil))
	assert.NoError(t, InitSentinel(&SentinelCfg{Enabled: false}))
}
