package artifact

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kiranshivaraju/genrelay/internal/comfy"
	"github.com/kiranshivaraju/genrelay/pkg/models"
)

// Materialized is an artifact written to its final local path.
type Materialized struct {
	Path          string
	Kind          models.ArtifactKind
	ConvertedFrom string
}

// Materializer brings artifacts to local disk.
type Materializer struct {
	client comfy.Client
}

func NewMaterializer(client comfy.Client) *Materializer {
	return &Materializer{client: client}
}

// Materialize copies a local artifact or downloads a remote one to target.
// A .glb is additionally converted to an .obj sibling, which becomes the
// result path; a failed conversion keeps the .glb.
func (m *Materializer) Materialize(ctx context.Context, a models.Artifact, target string) (Materialized, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return Materialized{}, fmt.Errorf("creating target directory: %w", err)
	}

	if a.IsLocal() {
		if err := copyFile(a.Filename, target); err != nil {
			return Materialized{}, fmt.Errorf("copying %s: %w", a.Filename, err)
		}
	} else {
		ref := comfy.FileRef{Filename: a.Filename, Subfolder: a.Subfolder, Type: a.Type}
		if err := m.client.Download(ctx, ref, target); err != nil {
			return Materialized{}, fmt.Errorf("downloading %s: %w", a.Filename, err)
		}
	}

	out := Materialized{Path: target, Kind: a.Kind}
	if strings.EqualFold(filepath.Ext(target), ".glb") {
		obj := strings.TrimSuffix(target, filepath.Ext(target)) + ".obj"
		if err := ConvertGLBToOBJ(target, obj); err != nil {
			slog.Warn("glb conversion failed, keeping glb", "path", target, "error", err)
			return out, nil
		}
		out.Path = obj
		out.ConvertedFrom = target
	}
	return out, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
