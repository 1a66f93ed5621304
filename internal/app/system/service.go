// Package system coordinates the start and stop of long-running components
// such as the HTTP server and the rate limiter janitor.
package system

import "context"

// Service is a lifecycle-managed component.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
