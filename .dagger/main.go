// Gatewayz CI/CD
//
// Package main provides reproducible builds and tests locally and in GitHub actions.
// It is the main harness for handling nearly all dev operations.
package main

import (
	"context"

	"dagger/gatewayz/internal/dagger"
)

// Gatewayz is the main module for the Gatewayz CI/CD pipeline
type Gatewayz struct {
	// Project source directory
	//
	// +private
	Source *dagger.Directory
}

// New creates a new Gatewayz CI/CD module instance
func New(
	// Project source directory.
	//
	// +defaultPath="/"
	// +ignore=[".git", ".direnv", ".devenv", "build", "tmp"]
	source *dagger.Directory,
) *Gatewayz {
	return &Gatewayz{
		Source: source,
	}
}

// goContainer returns an Alpine-based Go container with the project source
// mounted. The CLI is pure Go, so CGO stays off.
//
// It is the shared foundation for tests, builds, and linting.
func (g *Gatewayz) goContainer() *dagger.Container {
	return dag.Container().
		From("golang:1.25-alpine").
		WithEnvVariable("CGO_ENABLED", "0").
		WithEnvVariable("GOEXPERIMENT", "jsonv2").
		WithEnvVariable("PATH", "/go/bin:$PATH", dagger.ContainerWithEnvVariableOpts{Expand: true}).
		WithMountedCache("/go/pkg/mod", dag.CacheVolume("go-mod")).
		WithMountedCache("/root/.cache/go-build", dag.CacheVolume("go-build")).
		WithWorkdir("/src").
		WithDirectory("/src", g.Source)
}

// Test runs the gatewayz unit tests via "go test"
func (g *Gatewayz) Test(ctx context.Context) (string, error) {
	return g.goContainer().
		WithExec([]string{"go", "test", "-v", "./..."}).
		Stdout(ctx)
}
