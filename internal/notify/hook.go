package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ayusman/guardian/internal/plugin"
)

// HookNotifier runs every discovered plugin that handles the fall_alert action.
type HookNotifier struct {
	manager  *plugin.Manager
	executor *plugin.Executor
	log      *zap.Logger

	mu    sync.RWMutex
	token string
}

// hookParams is sent as Request.Params.
type hookParams struct {
	Payload
	DeviceToken string `json:"device_token,omitempty"`
	Image       string `json:"image,omitempty"` // base64 JPEG
}

// NewHookNotifier creates a notifier over discovered hooks.
func NewHookNotifier(manager *plugin.Manager, executor *plugin.Executor, log *zap.Logger) *HookNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &HookNotifier{
		manager:  manager,
		executor: executor,
		log:      log.Named("hooks"),
	}
}

func (n *HookNotifier) SetToken(token string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.token = token
}

// SendFallAlert runs each fall_alert hook in name order. All hooks are
// attempted; failures are joined.
func (n *HookNotifier) SendFallAlert(ctx context.Context, image []byte, payload Payload) error {
	hooks := n.manager.WithAction(plugin.ActionFallAlert)
	if len(hooks) == 0 {
		return nil
	}

	n.mu.RLock()
	params := hookParams{Payload: payload, DeviceToken: n.token}
	n.mu.RUnlock()
	if len(image) > 0 {
		params.Image = base64.StdEncoding.EncodeToString(image)
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode hook params: %w", err)
	}

	var errs []error
	for _, hook := range hooks {
		req := &plugin.Request{
			Action: plugin.ActionFallAlert,
			Event:  "fall",
			Config: hook.Manifest.Config,
			Params: raw,
		}
		resp, err := n.executor.Execute(ctx, hook, req)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !resp.Success {
			errs = append(errs, fmt.Errorf("hook %s: %s", hook.Manifest.Name, resp.Error))
			continue
		}
		n.log.Debug("hook delivered alert", zap.String("hook", hook.Manifest.Name))
	}
	return errors.Join(errs...)
}
