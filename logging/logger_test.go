package logging

import (
	"testing"

	"github.com/deemkeen/vidfed/util"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     util.LoggingConfig
		debugOn bool
		infoOn  bool
	}{
		{name: "json info", cfg: util.LoggingConfig{Level: "info", Format: "json"}, debugOn: false, infoOn: true},
		{name: "text debug", cfg: util.LoggingConfig{Level: "debug", Format: "text"}, debugOn: true, infoOn: true},
		{name: "invalid level falls back to info", cfg: util.LoggingConfig{Level: "loud", Format: "json"}, debugOn: false, infoOn: true},
		{name: "warn", cfg: util.LoggingConfig{Level: "warn", Format: "json"}, debugOn: false, infoOn: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := InitLogger(&tt.cfg); err != nil {
				t.Fatalf("InitLogger failed: %v", err)
			}
			l := GetLogger()
			if got := l.Core().Enabled(zapcore.DebugLevel); got != tt.debugOn {
				t.Errorf("debug enabled = %v, want %v", got, tt.debugOn)
			}
			if got := l.Core().Enabled(zapcore.InfoLevel); got != tt.infoOn {
				t.Errorf("info enabled = %v, want %v", got, tt.infoOn)
			}
		})
	}
	SetLogger(nil)
}

func TestGetLoggerFallback(t *testing.T) {
	SetLogger(nil)
	if GetLogger() == nil {
		t.Fatal("GetLogger should never return nil")
	}
	SetLogger(nil)
}

func TestWithComponent(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	WithComponent("inbox").Info("received", zap.String("type", "Follow"))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["component"] != "inbox" {
		t.Errorf("Expected component 'inbox', got %v", fields["component"])
	}
	if fields["type"] != "Follow" {
		t.Errorf("Expected type 'Follow', got %v", fields["type"])
	}
}
