package orchestrator

import "testing"

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("ORCH_MAX_REFLECTION_ATTEMPTS", "5")
	t.Setenv("ORCH_COMPILE_ON_INCONSISTENT", "false")

	opts := OptionsFromEnv(DefaultOptions())
	if opts.MaxReflectionAttempts != 5 || opts.CompileOnInconsistentOutline || opts.RefreshContextOnModification {
		t.Fatalf("unexpected options %+v", opts)
	}
}

func TestOptionsFromEnvOverrideEqualToDefault(t *testing.T) {
	custom := Options{MaxReflectionAttempts: 1, CompileOnInconsistentOutline: false}
	t.Setenv("ORCH_MAX_REFLECTION_ATTEMPTS", "3")
	t.Setenv("ORCH_COMPILE_ON_INCONSISTENT", "true")

	opts := OptionsFromEnv(custom)
	if opts.MaxReflectionAttempts != 3 || !opts.CompileOnInconsistentOutline {
		t.Fatalf("explicit value equal to the default must still override: %+v", opts)
	}
}

func TestOptionsFromEnvIgnoresInvalid(t *testing.T) {
	t.Setenv("ORCH_MAX_REFLECTION_ATTEMPTS", "many")
	t.Setenv("ORCH_REFRESH_CONTEXT_ON_MODIFICATION", "sometimes")
	opts := OptionsFromEnv(DefaultOptions())
	if opts != DefaultOptions() {
		t.Fatalf("invalid values must be ignored, got %+v", opts)
	}
}
