package health

import (
	"context"
	"fmt"
	"time"
)

// Monitored is a resource whose lifecycle state can be inspected, such as a
// reconnect.Engine
type Monitored interface {
	Name() string
	StateName() string
	Connected() bool
	Failed() bool
	LastError() error
}

// ResourceChecker reports the connection state of a reconnectable resource
type ResourceChecker struct {
	resource Monitored
}

// NewResourceChecker creates a checker for resource
func NewResourceChecker(resource Monitored) *ResourceChecker {
	return &ResourceChecker{resource: resource}
}

func (c *ResourceChecker) Name() string {
	return c.resource.Name()
}

func (c *ResourceChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	state := c.resource.StateName()
	result.Details["state"] = state

	switch {
	case c.resource.Connected():
		result.Status = StatusHealthy
		result.Message = "Connection is healthy"
	case c.resource.Failed():
		result.Status = StatusUnhealthy
		result.Message = "Reconnect attempts exhausted"
	default:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("Resource is %s", state)
	}

	if err := c.resource.LastError(); err != nil && result.Status != StatusHealthy {
		result.Error = err.Error()
	}

	result.Duration = time.Since(start)
	return result
}

// ComponentChecker allows checking custom components
type ComponentChecker struct {
	name    string
	checker func(ctx context.Context) (Status, string, map[string]interface{}, error)
}

// NewComponentChecker creates a checker for custom components
func NewComponentChecker(name string, checker func(ctx context.Context) (Status, string, map[string]interface{}, error)) *ComponentChecker {
	return &ComponentChecker{
		name:    name,
		checker: checker,
	}
}

func (c *ComponentChecker) Name() string {
	return c.name
}

func (c *ComponentChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	status, message, details, err := c.checker(ctx)

	result.Status = status
	result.Message = message
	if details != nil {
		result.Details = details
	}
	if err != nil {
		result.Error = err.Error()
	}
	result.Duration = time.Since(start)

	return result
}
