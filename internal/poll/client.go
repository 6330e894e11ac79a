// Package poll drives the device: the periodic state refresh cycle, the
// Event Check long-poll loop, and duplicate suppression for the events both
// produce.
package poll

import (
	"context"

	"github.com/technosupport/ts-nvrbridge/internal/raysharp"
)

// DeviceClient is the slice of the RaySharp client the pollers need.
type DeviceClient interface {
	Authenticated() bool
	Login(ctx context.Context) (map[string]any, error)
	Heartbeat(ctx context.Context) bool
	Call(ctx context.Context, endpoint string, data any) (map[string]any, error)
	EventCheck(ctx context.Context, sub *raysharp.Subscription) (map[string]any, error)
}
