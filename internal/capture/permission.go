package capture

import "os"

// PermissionChecker reports whether device access has been granted.
type PermissionChecker interface {
	Granted() bool
}

// PermissionFunc adapts a function to PermissionChecker.
type PermissionFunc func() bool

// Granted calls f.
func (f PermissionFunc) Granted() bool { return f() }

// AlwaysGranted grants access unconditionally.
var AlwaysGranted PermissionChecker = PermissionFunc(func() bool { return true })

// DeviceFilePermission grants access when the device node at Path exists
// and is readable by this process.
type DeviceFilePermission struct {
	Path string
}

// Granted opens the device node read-only and closes it again.
func (p DeviceFilePermission) Granted() bool {
	if _, err := os.Stat(p.Path); err != nil {
		return false
	}
	f, err := os.OpenFile(p.Path, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
