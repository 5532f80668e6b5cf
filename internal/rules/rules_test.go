package rules

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultEngineMatch(t *testing.T) {
	engine := NewDefaultEngine()

	tests := []struct {
		name      string
		query     string
		wantMatch bool
		wantTool  string
		wantLayer string
	}{
		{
			name:      "list devices",
			query:     "list all devices",
			wantMatch: true,
			wantTool:  "get_devices",
			wantLayer: "execution-api",
		},
		{
			name:      "block client",
			query:     "block the client aa:bb:cc:dd:ee:ff",
			wantMatch: true,
			wantTool:  "client_management",
			wantLayer: "execution-api",
		},
		{
			name:      "restart device",
			query:     "restart the device in the lobby",
			wantMatch: true,
			wantTool:  "restart_device",
			wantLayer: "execution-api",
		},
		{
			name:      "show networks",
			query:     "show me the guest networks",
			wantMatch: true,
			wantTool:  "get_networks",
			wantLayer: "execution-api",
		},
		{
			name:      "diagnostics over ssh",
			query:     "troubleshoot the uplink",
			wantMatch: true,
			wantTool:  "diagnostics",
			wantLayer: "execution-ssh",
		},
		{
			name:      "logs over ssh",
			query:     "get the system logs",
			wantMatch: true,
			wantTool:  "get_logs",
			wantLayer: "execution-ssh",
		},
		{
			name:      "case insensitive",
			query:     "LIST ALL DEVICES",
			wantMatch: true,
			wantTool:  "get_devices",
			wantLayer: "execution-api",
		},
		{
			name:      "no match",
			query:     "why is the wifi so slow",
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, ok := engine.Match(tt.query)

			if ok != tt.wantMatch {
				t.Fatalf("Match(%q) ok = %v, want %v", tt.query, ok, tt.wantMatch)
			}
			if !tt.wantMatch {
				return
			}
			if match.Tool != tt.wantTool {
				t.Errorf("Tool = %s, want %s", match.Tool, tt.wantTool)
			}
			if match.Layer != tt.wantLayer {
				t.Errorf("Layer = %s, want %s", match.Layer, tt.wantLayer)
			}
		})
	}
}

func TestFirstMatchWins(t *testing.T) {
	engine := NewDefaultEngine()

	// "show client logs" matches both the client rule and the logs
	// rule; the client rule comes first in the table.
	match, ok := engine.Match("show client logs")
	if !ok {
		t.Fatal("expected a match")
	}
	if match.Tool != "get_clients" {
		t.Errorf("Tool = %s, want get_clients", match.Tool)
	}
}

func TestConfirmFlag(t *testing.T) {
	engine := NewDefaultEngine()

	match, ok := engine.Match("restart the device")
	if !ok {
		t.Fatal("expected a match")
	}
	if !match.Confirm {
		t.Error("expected restart_device to require confirmation")
	}

	match, ok = engine.Match("list all devices")
	if !ok {
		t.Fatal("expected a match")
	}
	if match.Confirm {
		t.Error("expected get_devices to not require confirmation")
	}
}

func TestRuleValidate(t *testing.T) {
	tests := []struct {
		name    string
		rule    Rule
		wantErr bool
	}{
		{
			name:    "valid rule",
			rule:    Rule{Pattern: `(list|show).*device`, Tool: "get_devices", Kind: KindAPI},
			wantErr: false,
		},
		{
			name:    "empty pattern",
			rule:    Rule{Tool: "get_devices", Kind: KindAPI},
			wantErr: true,
		},
		{
			name:    "invalid regex",
			rule:    Rule{Pattern: `(unclosed`, Tool: "get_devices", Kind: KindAPI},
			wantErr: true,
		},
		{
			name:    "missing tool",
			rule:    Rule{Pattern: `restart`, Kind: KindAPI},
			wantErr: true,
		},
		{
			name:    "invalid kind",
			rule:    Rule{Pattern: `restart`, Tool: "restart_device", Kind: "grpc"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewEngineRejectsInvalidRules(t *testing.T) {
	_, err := NewEngine([]Rule{
		{Pattern: `(unclosed`, Tool: "broken", Kind: KindAPI},
	})
	if err == nil {
		t.Error("expected error for invalid rule table")
	}
}

func TestLoadFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "rules.yaml")

	content := `
rules:
  - pattern: "(upgrade).*firmware"
    tool: upgrade_firmware
    kind: api
    confirm: true
  - pattern: "(ping|trace)"
    tool: connectivity_check
    kind: ssh
`

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write rules file: %v", err)
	}

	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(loaded))
	}

	engine, err := NewEngine(loaded)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	match, ok := engine.Match("please upgrade the firmware tonight")
	if !ok {
		t.Fatal("expected a match")
	}
	if match.Tool != "upgrade_firmware" {
		t.Errorf("Tool = %s, want upgrade_firmware", match.Tool)
	}
	if !match.Confirm {
		t.Error("expected confirm flag from file")
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile("/nonexistent/rules.yaml")
	if err == nil {
		t.Error("expected error for missing rules file")
	}
}

func TestExecutionKindLayer(t *testing.T) {
	if got := KindAPI.Layer(); got != "execution-api" {
		t.Errorf("KindAPI.Layer() = %s, want execution-api", got)
	}
	if got := KindSSH.Layer(); got != "execution-ssh" {
		t.Errorf("KindSSH.Layer() = %s, want execution-ssh", got)
	}
}
