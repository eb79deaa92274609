package main

import (
	"testing"

	"github.com/fatih/color"

	"github.com/LeeSinLiang/Janus-sub000/internal/models"
	"github.com/LeeSinLiang/Janus-sub000/internal/tasks"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this title is too long", 10, "this ti..."},
		{"ünïcödé títlé", 8, "ünïcö..."},
	}

	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestColorHelpersWithoutTTY(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = prev }()

	if got := phaseColor(models.PhaseActive); got != "active" {
		t.Errorf("phaseColor = %q", got)
	}
	if got := statusColor(tasks.StatusFailed); got != "failed" {
		t.Errorf("statusColor = %q", got)
	}
	if got := enabledString(false, ":9090"); got != "disabled" {
		t.Errorf("enabledString = %q", got)
	}
	if got := enabledString(true, ":9090"); got != ":9090" {
		t.Errorf("enabledString = %q", got)
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := [][]string{
		{"serve"},
		{"migrate"},
		{"config", "validate"},
		{"trigger", "check"},
		{"strategy", "regenerate"},
		{"campaign", "list"},
		{"campaign", "show"},
		{"tasks", "list"},
		{"tasks", "stats"},
		{"version"},
	}

	for _, path := range want {
		cmd, rest, err := rootCmd.Find(path)
		if err != nil || len(rest) != 0 || cmd.Name() != path[len(path)-1] {
			t.Errorf("command %v not registered", path)
		}
	}
}

func TestLoadConfigRequiresFlag(t *testing.T) {
	prev := cfgFile
	cfgFile = ""
	defer func() { cfgFile = prev }()

	if _, err := loadConfig(); err == nil {
		t.Error("expected error without -c")
	}
}
