// Package main is an alert hook that turns the speaker up and plays an alarm
// on fall alerts, so someone in the room hears it even without a phone.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// Request represents the input from the plugin executor.
type Request struct {
	Action string          `json:"action"`
	Event  string          `json:"event"`
	Config json.RawMessage `json:"config"`
	Params json.RawMessage `json:"params"`
}

// Response represents the output to the plugin executor.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Config is read from the manifest's config block.
type Config struct {
	// Sound is the file to play. Defaults to a system sound.
	Sound string `json:"sound"`
	// Repeat is how many times the sound is played.
	Repeat int `json:"repeat"`
	// Volume is the output volume percentage to set first.
	Volume int `json:"volume"`
}

type actionHandler func(Config) error

var actionHandlers = map[string]actionHandler{
	"fall_alert": soundAlarm,
}

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeErrorResponse(fmt.Sprintf("failed to decode request: %v", err))
		return
	}

	handler, ok := actionHandlers[req.Action]
	if !ok {
		writeErrorResponse(fmt.Sprintf("unknown action: %s", req.Action))
		return
	}

	cfg, err := parseConfig(req.Config)
	if err != nil {
		writeErrorResponse(err.Error())
		return
	}

	if err := handler(cfg); err != nil {
		writeErrorResponse(fmt.Sprintf("action %s failed: %v", req.Action, err))
		return
	}

	writeSuccessResponse()
}

func parseConfig(raw json.RawMessage) (Config, error) {
	cfg := Config{Repeat: 3, Volume: 100}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if cfg.Repeat <= 0 {
		cfg.Repeat = 1
	}
	if cfg.Volume < 0 || cfg.Volume > 100 {
		cfg.Volume = 100
	}
	return cfg, nil
}

func soundAlarm(cfg Config) error {
	// A failed volume change still plays at the current level
	_ = setVolume(cfg.Volume)

	for i := 0; i < cfg.Repeat; i++ {
		if err := play(cfg.Sound); err != nil {
			return err
		}
	}
	return nil
}

func setVolume(percent int) error {
	switch runtime.GOOS {
	case "darwin":
		return run("osascript", "-e", fmt.Sprintf("set volume output volume %d", percent))
	default:
		return run("pactl", "set-sink-volume", "@DEFAULT_SINK@", fmt.Sprintf("%d%%", percent))
	}
}

func play(sound string) error {
	switch runtime.GOOS {
	case "darwin":
		if sound == "" {
			sound = "/System/Library/Sounds/Sosumi.aiff"
		}
		return run("afplay", sound)
	default:
		if sound == "" {
			sound = "/usr/share/sounds/freedesktop/stereo/alarm-clock-elapsed.oga"
		}
		return run("paplay", sound)
	}
}

// run executes a command and folds its output into the error.
func run(name string, args ...string) error {
	output, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}

func writeErrorResponse(errMsg string) {
	json.NewEncoder(os.Stdout).Encode(Response{Success: false, Error: errMsg})
}

func writeSuccessResponse() {
	json.NewEncoder(os.Stdout).Encode(Response{Success: true})
}
