// Package backend defines the contract implemented by backend model
// services and hosts the built-in adapters. The orchestration core only
// needs two things from a backend: a way to execute a task and, optionally,
// a declaration of its capabilities.
package backend

import (
	"context"

	"github.com/sonatahq/sonata/pkg/models"
)

// Service is the contract every backend model service implements.
type Service interface {
	// ID returns the stable service identifier.
	ID() string
	// ExecuteTask runs one task and returns its result. A non-nil error
	// indicates the service could not produce a result at all; service-level
	// failures are reported through the result's error status.
	ExecuteTask(ctx context.Context, task models.Task) (models.TaskResult, error)
}

// CapabilityProvider is an optional interface a Service may implement to
// declare its capabilities. Services that do not implement it are
// registered from the static fallback table instead. The probe happens
// once at registration time, not per call.
type CapabilityProvider interface {
	GetCapabilities() []models.ModelCapability
}
