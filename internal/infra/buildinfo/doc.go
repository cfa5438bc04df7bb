// Package buildinfo reports the keepstore build.
//
// Version, Commit and BuildTime are injected with ldflags:
//
//	go build -ldflags "-X github.com/yndnr/keepstore/internal/infra/buildinfo.Version=v1.2.0"
//
// When they are not set, the module version and VCS revision embedded by
// the Go toolchain are used where available.
package buildinfo
