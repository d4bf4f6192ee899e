package logging

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"fatal", FatalLevel, false},
		{"loud", InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultLogger_RoutesByLevel(t *testing.T) {
	var out, errOut bytes.Buffer
	logger := NewWriterLogger(&out, &errOut, false)

	logger.Debug("hidden")
	logger.Info("decoded", Fields{"samples": 22050})
	logger.Error(errors.New("boom"), "failed", Fields{"input": "a.wav"})

	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "[INFO] decoded samples=22050")
	assert.Contains(t, errOut.String(), "[ERROR] failed: boom input=a.wav")
}

func TestDefaultLogger_ChildSharesLevel(t *testing.T) {
	var out bytes.Buffer
	logger := NewWriterLogger(&out, &out, false)
	child := logger.WithFields(Fields{"component": "hcqt"})

	logger.SetLevel(DebugLevel)
	child.Debug("frame count", Fields{"frames": 87})

	assert.Contains(t, out.String(), "[DEBUG] frame count component=hcqt frames=87")
}

func TestDefaultLogger_WithContext(t *testing.T) {
	var out bytes.Buffer
	logger := NewWriterLogger(&out, &out, false)

	ctx := ContextWithFields(context.Background(), Fields{"run_id": "r1"})
	logger.WithContext(ctx).Info("start")

	assert.Contains(t, out.String(), "run_id=r1")
}

func TestDisableColors(t *testing.T) {
	prev := GetGlobalLogger()
	t.Cleanup(func() { SetGlobalLogger(prev) })

	var out, errOut bytes.Buffer
	SetGlobalLogger(NewWriterLogger(&out, &errOut, true))

	Warn("slow decode")
	assert.Contains(t, errOut.String(), ColorYellow)

	errOut.Reset()
	DisableColors()
	Warn("slow decode")
	assert.NotContains(t, errOut.String(), "\033[")
	assert.Contains(t, errOut.String(), "[WARN] slow decode")
}
