package userdb

import (
	"bytes"
	"fmt"
	"os"
)

// PasswdFile is a parsed /etc/passwd.
type PasswdFile struct {
	pf parsedFile[User]
}

func LoadPasswd(path string) (*PasswdFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	lines, err := readLines(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}

	var pf parsedFile[User]
	for _, line := range lines {
		if skippable(line) {
			pf.lines = append(pf.lines, rawLine[User]{raw: line})
			continue
		}
		parts := parseColonLine(line)
		if len(parts) < 7 {
			// Preserve unknown line as-is.
			pf.lines = append(pf.lines, rawLine[User]{raw: line})
			continue
		}
		uid, ok := parseUint32(parts[2])
		if !ok {
			pf.lines = append(pf.lines, rawLine[User]{raw: line})
			continue
		}
		gid, ok := parseUint32(parts[3])
		if !ok {
			pf.lines = append(pf.lines, rawLine[User]{raw: line})
			continue
		}
		e := User{
			Name:  parts[0],
			UID:   uid,
			GID:   gid,
			Gecos: parts[4],
			Home:  parts[5],
			Shell: parts[6],
		}
		pf.lines = append(pf.lines, rawLine[User]{entry: &e})
	}
	return &PasswdFile{pf: pf}, nil
}

func (f *PasswdFile) Find(name string) *User {
	for _, e := range f.pf.entries() {
		if e.Name == name {
			return e
		}
	}
	return nil
}
