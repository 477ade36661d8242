package core

import "testing"

// TestConfig_WithDefaults_NilReceiver verifies a nil *Config resolves to
// DefaultConfig().
func TestConfig_WithDefaults_NilReceiver(t *testing.T) {
	var c *Config
	got := c.WithDefaults()
	if got.PanicHandler == nil || got.Metrics == nil || got.RejectedHandler == nil || got.Logger == nil {
		t.Error("WithDefaults on nil receiver left a nil field")
	}
}

// TestConfig_WithDefaults_PartialOverride verifies only nil fields are
// replaced; an explicitly set field survives untouched.
func TestConfig_WithDefaults_PartialOverride(t *testing.T) {
	custom := &NoOpLogger{}
	c := &Config{Logger: custom}
	got := c.WithDefaults()

	if got.Logger != Logger(custom) {
		t.Error("WithDefaults replaced an explicitly set Logger")
	}
	if got.PanicHandler == nil {
		t.Error("WithDefaults left PanicHandler nil")
	}
	if _, ok := got.PanicHandler.(*DefaultPanicHandler); !ok {
		t.Errorf("PanicHandler = %T, want *DefaultPanicHandler", got.PanicHandler)
	}
}

// TestDefaultConfig verifies every field is populated with the package's
// default implementation.
func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	if _, ok := c.PanicHandler.(*DefaultPanicHandler); !ok {
		t.Errorf("PanicHandler = %T, want *DefaultPanicHandler", c.PanicHandler)
	}
	if _, ok := c.Metrics.(NilMetrics); !ok {
		t.Errorf("Metrics = %T, want NilMetrics", c.Metrics)
	}
	if _, ok := c.RejectedHandler.(*DefaultRejectedHandler); !ok {
		t.Errorf("RejectedHandler = %T, want *DefaultRejectedHandler", c.RejectedHandler)
	}
	if _, ok := c.Logger.(*NoOpLogger); !ok {
		t.Errorf("Logger = %T, want *NoOpLogger", c.Logger)
	}
}
