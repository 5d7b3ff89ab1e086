package orchestrator

import (
	"log"
	"os"
	"strconv"
	"strings"
)

// Options controls the section lifecycle. Values are passed at construction;
// nothing reads global defaults at step time.
type Options struct {
	// MaxReflectionAttempts bounds draft -> critique -> revise cycles per drafting round.
	MaxReflectionAttempts int
	// CompileOnInconsistentOutline keeps the degraded "compile anyway" router fallback.
	// When false the router reports a fatal error instead.
	CompileOnInconsistentOutline bool
	// RefreshContextOnModification re-runs retrieval when a section comes back for modification.
	RefreshContextOnModification bool
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		MaxReflectionAttempts:        3,
		CompileOnInconsistentOutline: true,
		RefreshContextOnModification: false,
	}
}

// OptionsFromEnv overrides defaults with ORCH_* env vars if present.
// An override applies whenever the variable is set, even when it equals the default.
func OptionsFromEnv(defaults Options) Options {
	opts := defaults
	if v, ok := readEnvInt("ORCH_MAX_REFLECTION_ATTEMPTS"); ok {
		if v < 0 {
			log.Printf("orchestrator env ORCH_MAX_REFLECTION_ATTEMPTS negative, ignoring: %d", v)
		} else {
			opts.MaxReflectionAttempts = v
		}
	}
	if v, ok := readEnvBool("ORCH_COMPILE_ON_INCONSISTENT"); ok {
		opts.CompileOnInconsistentOutline = v
	}
	if v, ok := readEnvBool("ORCH_REFRESH_CONTEXT_ON_MODIFICATION"); ok {
		opts.RefreshContextOnModification = v
	}
	return opts
}

func (o Options) routeOptions() RouteOptions {
	return RouteOptions{CompileOnInconsistentOutline: o.CompileOnInconsistentOutline}
}

func readEnvInt(key string) (int, bool) {
	raw, present := os.LookupEnv(key)
	raw = strings.TrimSpace(raw)
	if !present || raw == "" {
		return 0, false
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("orchestrator env %s invalid int: %v", key, err)
		return 0, false
	}
	return val, true
}

func readEnvBool(key string) (bool, bool) {
	raw, present := os.LookupEnv(key)
	raw = strings.TrimSpace(raw)
	if !present || raw == "" {
		return false, false
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("orchestrator env %s invalid bool: %v", key, err)
		return false, false
	}
	return val, true
}
