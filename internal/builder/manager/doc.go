// Package manager is the build subsystem that serves the catalogue UI. The
// UI ships embedded in the binary; manager.assets_dir replaces it with a
// directory on disk.
package manager
