// internal/domain/dispatcher.go
package domain

import "context"

// Dispatcher is the submission entry point the trigger registry hands fire
// events to. It returns the id of the job created for the firing.
type Dispatcher interface {
	DispatchFire(ctx context.Context, event FireEvent) (string, error)
}
