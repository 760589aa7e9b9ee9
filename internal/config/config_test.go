package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "invalid server port",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Storage.Driver = "postgres" },
			wantErr: "unknown storage driver",
		},
		{
			name: "mysql without dsn",
			mutate: func(c *Config) {
				c.Storage.Driver = "mysql"
				c.Storage.DSN = ""
			},
			wantErr: "dsn is required",
		},
		{
			name:    "tenant cap below one",
			mutate:  func(c *Config) { c.Jobs.MaxConcurrentPerTenant = 0 },
			wantErr: "max_concurrent_per_tenant",
		},
		{
			name: "nats enabled without url",
			mutate: func(c *Config) {
				c.NATS.Enabled = true
				c.NATS.URL = ""
			},
			wantErr: "nats url required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSecret_NeverPrinted(t *testing.T) {
	s := Secret("user:hunter2@tcp(db:3306)/remedyd")

	if got := fmt.Sprintf("%v %s %#v %q %+v", s, s, s, s, s); strings.Contains(got, "hunter2") {
		t.Errorf("formatted secret leaked value: %s", got)
	}
	data, err := json.Marshal(struct{ DSN Secret }{s})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(data), "hunter2") {
		t.Errorf("json secret leaked value: %s", data)
	}
	if s.Value() != "user:hunter2@tcp(db:3306)/remedyd" {
		t.Error("Value() should return raw secret")
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"90s", 90 * time.Second, false},
		{"2h", 2 * time.Hour, false},
		{"30", 30 * time.Second, false},
		{"0", 0, false},
		{"-5s", 0, true},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		var d Duration
		err := d.UnmarshalText([]byte(tt.in))
		if (err != nil) != tt.wantErr {
			t.Fatalf("UnmarshalText(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if err == nil && d.Duration() != tt.want {
			t.Errorf("UnmarshalText(%q) = %v, want %v", tt.in, d.Duration(), tt.want)
		}
	}
}
