package userdb

import (
	"bytes"
	"fmt"
	"os"
)

// ShadowFile is a parsed /etc/shadow. Loading it requires root, which the
// login manager has by definition; failures are surfaced, not swallowed.
type ShadowFile struct {
	pf parsedFile[ShadowEntry]
}

func LoadShadow(path string) (*ShadowFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	lines, err := readLines(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}

	var pf parsedFile[ShadowEntry]
	for _, line := range lines {
		if skippable(line) {
			pf.lines = append(pf.lines, rawLine[ShadowEntry]{raw: line})
			continue
		}
		parts := parseColonLine(line)
		if len(parts) < 2 {
			pf.lines = append(pf.lines, rawLine[ShadowEntry]{raw: line})
			continue
		}
		for len(parts) < 9 {
			parts = append(parts, "")
		}
		e := ShadowEntry{
			Name:       parts[0],
			Hash:       parts[1],
			LastChange: parts[2],
			Min:        parts[3],
			Max:        parts[4],
			Warn:       parts[5],
			Inactive:   parts[6],
			Expire:     parts[7],
			Reserved:   parts[8],
		}
		pf.lines = append(pf.lines, rawLine[ShadowEntry]{entry: &e})
	}
	return &ShadowFile{pf: pf}, nil
}

func (f *ShadowFile) Find(name string) *ShadowEntry {
	for _, e := range f.pf.entries() {
		if e.Name == name {
			return e
		}
	}
	return nil
}
