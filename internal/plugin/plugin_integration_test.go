package plugin

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func TestPlugin_DesktopAlert_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	pluginDir := findPluginDir("desktop-alert")
	if pluginDir == "" {
		t.Skip("desktop-alert plugin not found")
	}

	bin := filepath.Join(t.TempDir(), "desktop-alert")
	build := exec.Command("go", "build", "-o", bin, ".")
	build.Dir = pluginDir
	if out, err := build.CombinedOutput(); err != nil {
		t.Skipf("desktop-alert plugin not buildable: %v: %s", err, out)
	}

	mgr := NewManager(filepath.Dir(pluginDir), nil)
	if err := mgr.Discover(); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	plug, err := mgr.Get("desktop-alert")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	plug.Executable = bin

	// An unknown action exercises the protocol without raising a notification
	resp, err := NewExecutor(5*time.Second).Execute(context.Background(), plug, &Request{
		Action: "unknown",
		Params: json.RawMessage(`{}`),
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if resp.Success {
		t.Error("expected failure for unknown action")
	}
}

func findPluginDir(name string) string {
	candidates := []string{
		filepath.Join("../../plugins", name),
		filepath.Join("../../../plugins", name),
	}

	for _, dir := range candidates {
		if _, err := os.Stat(filepath.Join(dir, "plugin.json")); err == nil {
			return dir
		}
	}
	return ""
}
