package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsAverage(t *testing.T) {
	m := NewMetrics()
	assert.Equal(t, FrameTimings{}, m.Average())

	m.Update(FrameTimings{WaitFence: 2 * time.Millisecond, Total: 10 * time.Millisecond})
	m.Update(FrameTimings{WaitFence: 4 * time.Millisecond, Total: 20 * time.Millisecond})
	avg := m.Average()
	assert.Equal(t, 3*time.Millisecond, avg.WaitFence)
	assert.Equal(t, 15*time.Millisecond, avg.Total)

	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(FrameTimings{Total: 5 * time.Millisecond})
	}
	assert.Equal(t, 5*time.Millisecond, m.Average().Total)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"verbose", InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
