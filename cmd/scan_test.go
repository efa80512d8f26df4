// File: cmd/scan_test.go
package cmd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/phishscope/internal/analysis/core"
)

func TestScanCmd_Text(t *testing.T) {
	f, _ := useOfflineFactory(t)

	out, err := executeCommand(t, "scan", "http://192.168.1.1/login")
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.created.Load())
	assert.Contains(t, out, "http://192.168.1.1/login\n")
	assert.Contains(t, out, "score: 25/100 (LIKELY SAFE)")
}

func TestScanCmd_JSONWithThreat(t *testing.T) {
	useOfflineFactory(t)

	out, err := executeCommand(t, "scan", "--json", "--threat", "malware", "https://example.com/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 URLs judged to be phishing")

	var verdict core.Verdict
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &verdict))
	assert.Equal(t, 100, verdict.TotalScore)
	assert.True(t, verdict.IsPhishing)
	require.NotNil(t, verdict.ThreatFeedFlag)
	assert.True(t, *verdict.ThreatFeedFlag)
}

func TestScanCmd_RequiresURL(t *testing.T) {
	f, _ := useOfflineFactory(t)

	_, err := executeCommand(t, "scan")
	require.Error(t, err)
	assert.EqualValues(t, 0, f.created.Load())
}

func TestThreatReportFromFlag(t *testing.T) {
	tests := []struct {
		in   string
		want *core.ThreatReport
	}{
		{in: "", want: nil},
		{in: "  ", want: nil},
		{in: "safe", want: &core.ThreatReport{IsSafe: true}},
		{in: "SOCIAL_ENGINEERING", want: &core.ThreatReport{ThreatType: "SOCIAL_ENGINEERING"}},
		{in: " malware ", want: &core.ThreatReport{ThreatType: "MALWARE"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, threatReportFromFlag(tt.in))
		})
	}
}
