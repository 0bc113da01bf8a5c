package models

import (
	"os"
	"sort"
	"time"
)

// FileRecord describes a file as observed at scan time. Records are read
// fresh from the filesystem on every scan and never cached across runs.
type FileRecord struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	ModifiedTime time.Time `json:"modified_time"`
	AccessedTime time.Time `json:"accessed_time"`
}

// StatRecord builds a FileRecord from a fresh stat of path.
func StatRecord(path string) (FileRecord, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileRecord{}, err
	}
	return FileRecord{
		Path:         path,
		Size:         info.Size(),
		ModifiedTime: info.ModTime(),
		AccessedTime: AccessTime(info),
	}, nil
}

// DuplicateGroup holds files sharing identical content. Members keep their
// discovery order; a group always has at least two members.
type DuplicateGroup struct {
	Hash      string       `json:"hash"`
	Files     []FileRecord `json:"files"`
	TotalSize int64        `json:"total_size"`
}

// WastedBytes is the space occupied by redundant copies.
func (g *DuplicateGroup) WastedBytes() int64 {
	if len(g.Files) < 2 {
		return 0
	}
	return g.Files[0].Size * int64(len(g.Files)-1)
}

// Resolution proposes which group member to keep and which to delete.
type Resolution struct {
	Keep   FileRecord   `json:"keep"`
	Delete []FileRecord `json:"delete"`
	Reason string       `json:"reason"`
}

// ResolveNewest keeps the member with the latest modification time,
// breaking ties by lexicographically smallest path for determinism.
func ResolveNewest(group DuplicateGroup) Resolution {
	files := make([]FileRecord, len(group.Files))
	copy(files, group.Files)

	sort.SliceStable(files, func(i, j int) bool {
		if !files[i].ModifiedTime.Equal(files[j].ModifiedTime) {
			return files[i].ModifiedTime.After(files[j].ModifiedTime)
		}
		return files[i].Path < files[j].Path
	})

	keep := files[0]
	deletes := make([]FileRecord, 0, len(group.Files)-1)
	for _, f := range group.Files {
		if f.Path != keep.Path {
			deletes = append(deletes, f)
		}
	}

	return Resolution{
		Keep:   keep,
		Delete: deletes,
		Reason: "keeping newest copy (modified " + keep.ModifiedTime.Format(time.RFC3339) + ")",
	}
}
