package adapter

import "regexp"

// Mount addresses look like <mount>.chdfs[-dualstack][.inner].<region>.<domain>,
// e.g. f4mabcdefgh-xyzw.chdfs.ap-guangzhou.myqcloud.com. The first segment is
// the tenant/mount identifier.
var mountPointAddrPattern = regexp.MustCompile(
	`^([a-zA-Z0-9-]+)\.chdfs(-dualstack)?(\.inner)?\.([a-z0-9-]+)\.([a-z0-9-.]+)$`)

// IsValidMountPointAddr reports whether addr is a structurally valid mount
// address. Pure; never fails. Empty input is invalid.
func IsValidMountPointAddr(addr string) bool {
	if addr == "" {
		return false
	}
	return mountPointAddrPattern.MatchString(addr)
}
