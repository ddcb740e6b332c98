package docker

import "time"

// Config holds the configuration for the docker launcher.
type Config struct {
	// Image is the image the interpreter runs in. It must provide python3.
	Image string
	// Python is the interpreter executable inside the image.
	Python string
	// MemoryLimit is the maximum amount of memory the container can use (in bytes).
	MemoryLimit int64
	// CPULimit is the number of CPUs the container can use.
	CPULimit float64
	// PoolSize is the number of pre-warmed containers to keep, so a restart
	// does not wait for container creation.
	PoolSize int
	// PullTimeout bounds the image pull done by New.
	PullTimeout time.Duration
	// TmpfsSize is the size of the writable /tmp mount.
	TmpfsSize string
}

// DefaultConfig provides defaults for a data-science capable interpreter.
func DefaultConfig() Config {
	return Config{
		// slim rather than alpine: numpy/pandas/matplotlib wheels need glibc
		Image:  "python:3.12-slim",
		Python: "python3",
		// 512 MB memory limit
		MemoryLimit: 512 * 1024 * 1024,
		CPULimit:    1,
		PoolSize:    1,
		PullTimeout: 5 * time.Minute,
		TmpfsSize:   "64m",
	}
}
