//go:build !unix

package store

import "os"

// Advisory locking is only implemented on unix; elsewhere the lock file
// exists but is not enforced.
func lockFile(f *os.File) error { return nil }

func unlockFile(f *os.File) error { return nil }

func syncDir(dir string) error { return nil }
