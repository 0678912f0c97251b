package auth

import "syscall"

// Credential builds the child credential for spawning a process as this
// identity. The runtime applies it between fork and exec in the fixed
// order setgroups, setgid, setuid; any failure aborts before the target
// program runs. NoSetGroups must stay false or supplementary groups leak
// from the parent.
func (id Identity) Credential() *syscall.Credential {
	groups := make([]uint32, len(id.Groups))
	copy(groups, id.Groups)
	return &syscall.Credential{
		Uid:    id.UID,
		Gid:    id.GID,
		Groups: groups,
	}
}
