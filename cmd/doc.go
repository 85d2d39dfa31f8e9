// Package cmd provides the coordinator's CLI commands.
//
// # Commands
//
// coordinator: runs the PET round coordinator as a standalone HTTP
// service.
//
//	go run ./cmd/coordinator --config=coordinator.yaml
//	COORD_MODEL_LENGTH=1000000 go run ./cmd/coordinator --addr=:8080 --store=memory
package cmd
