package control

import "syscall"

// unixRights builds the SCM_RIGHTS ancillary-data payload for passing a
// single file descriptor, matching the encoding net.UnixConn.WriteMsgUnix
// expects for its oob parameter.
func unixRights(fd int) []byte {
	return syscall.UnixRights(fd)
}
