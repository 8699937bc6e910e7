//go:build darwin

package storage

import "golang.org/x/sys/unix"

func statFilesystem(dir string) (fsInfo, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return fsInfo{}, err
	}
	name := unix.ByteSliceToString(st.Fstypename[:])
	switch name {
	case "nfs", "smbfs", "afpfs", "webdav", "cifs":
		return fsInfo{Type: name, Remote: true}, nil
	}
	return fsInfo{Type: name}, nil
}
