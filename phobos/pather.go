package phobos

import (
	"fmt"
	"path/filepath"
)

// pather centralizes the filesystem layout spec.md's External
// Interfaces section names: an active index, its staging file during
// an atomic rewrite, a WAL and its recovery backup, leveled table
// files discovered by filename, and a table-staging file.
type pather struct {
	dir    string
	prefix string
}

func (p pather) indexPath() string        { return filepath.Join(p.dir, p.prefix+".idx") }
func (p pather) indexStagePath() string    { return filepath.Join(p.dir, "."+p.prefix+".idx~") }
func (p pather) walPath() string           { return filepath.Join(p.dir, p.prefix+".log") }
func (p pather) walBackupPath() string     { return filepath.Join(p.dir, "."+p.prefix+".log~") }
func (p pather) tableStagePath() string    { return filepath.Join(p.dir, "."+p.prefix+"._.fst~") }

func (p pather) tablePath(id uint64, level uint8) string {
	return filepath.Join(p.dir, fmt.Sprintf("%s_%d.%d.fst", p.prefix, id, level))
}
