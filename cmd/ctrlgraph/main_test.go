package main

import "testing"

func TestGetConfigPath(t *testing.T) {
	t.Setenv("CTRLGRAPH_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("CTRLGRAPH_CONFIG", "/etc/ctrlgraph/config.yaml")
	if got := getConfigPath(); got != "/etc/ctrlgraph/config.yaml" {
		t.Errorf("getConfigPath() = %q, want override", got)
	}
}
