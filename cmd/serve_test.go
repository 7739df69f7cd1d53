package cmd

import (
	"slices"
	"testing"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/voter-gate/internal/config"
)

func serveTestConfig() *config.Config {
	cfg := &config.Config{Env: config.EnvDevelopment}
	cfg.Identity.Pepper = "pepper"
	cfg.OTP.Length = 6
	cfg.OTP.Backend = config.BackendMemory
	cfg.Registry.Backend = config.BackendMemory
	cfg.Verification.Provider = "http"
	cfg.Verification.EnrollmentPolicy = config.PolicyReject
	cfg.Verification.Threshold = 0.6
	return cfg
}

func TestApplyServeFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		check   func(t *testing.T, cfg *config.Config)
		wantErr bool
	}{
		{
			name: "no flags keeps config",
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Verification.Threshold != 0.6 || len(cfg.Server.AllowedOrigins) != 0 {
					t.Errorf("config changed without flags: %+v", cfg.Server)
				}
			},
		},
		{
			name: "threshold and origins override",
			args: []string{"--threshold", "0.75", "--allowed-origins", "https://a.example,https://b.example", "--port", "9090"},
			check: func(t *testing.T, cfg *config.Config) {
				if cfg.Verification.Threshold != 0.75 {
					t.Errorf("expected threshold 0.75, got %v", cfg.Verification.Threshold)
				}
				if !slices.Equal(cfg.Server.AllowedOrigins, []string{"https://a.example", "https://b.example"}) {
					t.Errorf("unexpected origins %v", cfg.Server.AllowedOrigins)
				}
				if cfg.Server.Port != 9090 {
					t.Errorf("expected port 9090, got %d", cfg.Server.Port)
				}
			},
		},
		{
			name:    "threshold out of range is rejected",
			args:    []string{"--threshold", "1.5"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{Use: "serve"}
			addServeFlags(cmd)
			if err := cmd.ParseFlags(tt.args); err != nil {
				t.Fatalf("ParseFlags: %v", err)
			}

			cfg := serveTestConfig()
			err := applyServeFlags(cmd, cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}
