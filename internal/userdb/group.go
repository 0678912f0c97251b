package userdb

import (
	"bytes"
	"fmt"
	"os"
	"strings"
)

// GroupFile is a parsed /etc/group.
type GroupFile struct {
	pf parsedFile[Group]
}

func LoadGroup(path string) (*GroupFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	lines, err := readLines(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}

	var pf parsedFile[Group]
	for _, line := range lines {
		if skippable(line) {
			pf.lines = append(pf.lines, rawLine[Group]{raw: line})
			continue
		}
		parts := parseColonLine(line)
		if len(parts) < 4 {
			pf.lines = append(pf.lines, rawLine[Group]{raw: line})
			continue
		}
		gid, ok := parseUint32(parts[2])
		if !ok {
			pf.lines = append(pf.lines, rawLine[Group]{raw: line})
			continue
		}
		members := []string{}
		if parts[3] != "" {
			members = strings.Split(parts[3], ",")
		}
		e := Group{Name: parts[0], GID: gid, Members: members}
		pf.lines = append(pf.lines, rawLine[Group]{entry: &e})
	}
	return &GroupFile{pf: pf}, nil
}

// SupplementaryGroups returns every gid whose group lists username as a
// member, with primaryGID always included first. The result feeds
// setgroups for the privilege drop, so ordering is stable.
func (f *GroupFile) SupplementaryGroups(username string, primaryGID uint32) []uint32 {
	gids := []uint32{primaryGID}
	for _, g := range f.pf.entries() {
		if g.GID == primaryGID {
			continue
		}
		for _, m := range g.Members {
			if m == username {
				gids = append(gids, g.GID)
				break
			}
		}
	}
	return gids
}
