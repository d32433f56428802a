package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/genrelay/pkg/models"
)

const (
	outputFolderName = "_GENRELAY"
	outputPrefix     = "genrelay_v"
)

var versionPattern = regexp.MustCompile(`^` + regexp.QuoteMeta(outputPrefix) + `(\d+)`)

// AllocateOutputPath returns the next free versioned path for a job:
// <root>/<user>/_GENRELAY/Job_<id>/<2D|3D>/genrelay_v###<ext>. The version
// is one more than the highest already present. The directory is created.
func AllocateOutputPath(root, user, jobID string, kind models.ArtifactKind, ext string) (string, error) {
	ext = strings.ToLower(ext)
	if ext == "" {
		ext = ".png"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if user == "" {
		user = "artist"
	}
	if jobID == "" {
		jobID = "unknown"
	}

	category := "2D"
	if kind == models.KindMesh || kind == models.KindCamera {
		category = "3D"
	}
	dir := filepath.Join(root, user, outputFolderName, "Job_"+jobID, category)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("listing output directory: %w", err)
	}
	highest := 0
	for _, e := range entries {
		m := versionPattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		if v, err := strconv.Atoi(m[1]); err == nil && v > highest {
			highest = v
		}
	}
	return filepath.Join(dir, fmt.Sprintf("%s%03d%s", outputPrefix, highest+1, ext)), nil
}
