//go:build linux

package storage

import (
	"fmt"

	"golang.org/x/sys/unix"
)

var remoteMagic = map[int64]string{
	unix.NFS_SUPER_MAGIC:  "nfs",
	unix.CIFS_SUPER_MAGIC: "cifs",
	unix.SMB_SUPER_MAGIC:  "smbfs",
	unix.SMB2_SUPER_MAGIC: "smb2",
	unix.AFS_SUPER_MAGIC:  "afs",
	unix.CODA_SUPER_MAGIC: "coda",
	unix.V9FS_MAGIC:       "9p",
}

func statFilesystem(dir string) (fsInfo, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return fsInfo{}, err
	}
	magic := int64(st.Type)
	if name, ok := remoteMagic[magic]; ok {
		return fsInfo{Type: name, Remote: true}, nil
	}
	return fsInfo{Type: fmt.Sprintf("0x%x", uint64(magic))}, nil
}
