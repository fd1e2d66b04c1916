package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"RTMP_URL", "RTMP_HOST", "RTMP_KEY", "RESOLVER_CACHE_TTL"} {
		t.Setenv(k, "")
	}
	cfg := FromEnv()
	if cfg.RTMPTarget() != "" {
		t.Errorf("RTMPTarget() = %q, want empty", cfg.RTMPTarget())
	}
	if cfg.AudioSampleRate != 48000 {
		t.Errorf("AudioSampleRate = %d, want 48000", cfg.AudioSampleRate)
	}
	if cfg.ResolverCacheTTL != 10*time.Minute {
		t.Errorf("ResolverCacheTTL = %v, want 10m", cfg.ResolverCacheTTL)
	}
	if cfg.VideoGOP != 60 {
		t.Errorf("VideoGOP = %d, want 60", cfg.VideoGOP)
	}
}

func TestRTMPTarget(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"explicit url wins", Config{RTMPURL: "rtmp://a/live/x", RTMPHost: "b", RTMPKey: "k"}, "rtmp://a/live/x"},
		{"host and key", Config{RTMPHost: "10.0.0.5", RTMPApp: "live", RTMPKey: "abc"}, "rtmp://10.0.0.5/live/abc"},
		{"with port", Config{RTMPHost: "h", RTMPPort: "1935", RTMPApp: "/app/", RTMPKey: "abc"}, "rtmp://h:1935/app/abc"},
		{"key is escaped", Config{RTMPHost: "h", RTMPApp: "live", RTMPKey: "a b/c"}, "rtmp://h/live/a%20b%2Fc"},
		{"missing key", Config{RTMPHost: "h"}, ""},
		{"nothing", Config{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.RTMPTarget(); got != tt.want {
				t.Errorf("RTMPTarget() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("X_DUR", "90")
	if got := getEnvDuration("X_DUR", time.Second); got != 90*time.Second {
		t.Errorf("getEnvDuration(90) = %v", got)
	}
	t.Setenv("X_DUR", "250ms")
	if got := getEnvDuration("X_DUR", time.Second); got != 250*time.Millisecond {
		t.Errorf("getEnvDuration(250ms) = %v", got)
	}
	t.Setenv("X_DUR", "junk")
	if got := getEnvDuration("X_DUR", time.Second); got != time.Second {
		t.Errorf("getEnvDuration(junk) = %v", got)
	}
}
