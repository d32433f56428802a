// Package artifact extracts, recovers and materializes the files a run
// produced on the compute service.
package artifact

import (
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kiranshivaraju/genrelay/pkg/models"
)

var kindByExt = map[string]models.ArtifactKind{
	".png": models.KindImage, ".jpg": models.KindImage, ".jpeg": models.KindImage,
	".exr": models.KindImage, ".tif": models.KindImage, ".tiff": models.KindImage,
	".webp": models.KindImage, ".bmp": models.KindImage, ".gif": models.KindImage,

	".glb": models.KindMesh, ".gltf": models.KindMesh, ".obj": models.KindMesh,
	".fbx": models.KindMesh, ".abc": models.KindMesh, ".ply": models.KindMesh,
	".stl": models.KindMesh, ".usd": models.KindMesh, ".usda": models.KindMesh,
	".usdc": models.KindMesh, ".usdz": models.KindMesh,

	".chan": models.KindCamera,
}

// Classify returns the kind for a file extension (with or without the dot).
func Classify(ext string) (models.ArtifactKind, bool) {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	k, ok := kindByExt[ext]
	return k, ok
}

// preferredKeys are visited first, in this order, within one node's outputs.
var preferredKeys = []string{"images", "files", "meshes", "gifs", "3d", "cameras"}

// Collector turns a history entry's outputs into classified artifacts.
type Collector struct {
	ignorePrefixes []string
}

func NewCollector(ignorePrefixes []string) *Collector {
	return &Collector{ignorePrefixes: ignorePrefixes}
}

// Collect walks outputs (source node id → named output fields) in node
// order. Entries may be {filename, subfolder, type} objects, bare strings,
// or lists of either. Ignored prefixes and unrecognized extensions are
// dropped.
func (c *Collector) Collect(outputs map[string]map[string]any, g models.ExecutionGraph) []models.Artifact {
	nodeIDs := make([]string, 0, len(outputs))
	for id := range outputs {
		nodeIDs = append(nodeIDs, id)
	}
	models.SortNodeIDs(nodeIDs)

	var artifacts []models.Artifact
	seen := make(map[string]bool)
	for _, id := range nodeIDs {
		class := ""
		if n, ok := g[id]; ok && n != nil {
			class = n.ClassType
		}
		for _, key := range orderedKeys(outputs[id]) {
			for _, ref := range fileRefs(outputs[id][key]) {
				a, ok := c.artifact(ref, id, class)
				if !ok {
					continue
				}
				dedup := a.Subfolder + "/" + a.Filename + "/" + a.Type
				if seen[dedup] {
					continue
				}
				seen[dedup] = true
				artifacts = append(artifacts, a)
			}
		}
	}
	return artifacts
}

func (c *Collector) artifact(ref fileRef, nodeID, class string) (models.Artifact, bool) {
	name := strings.TrimSpace(ref.filename)
	if name == "" {
		return models.Artifact{}, false
	}
	base := path.Base(filepath.ToSlash(name))
	for _, p := range c.ignorePrefixes {
		if p != "" && strings.HasPrefix(base, p) {
			return models.Artifact{}, false
		}
	}
	ext := strings.ToLower(filepath.Ext(base))
	kind, ok := Classify(ext)
	if !ok {
		return models.Artifact{}, false
	}
	return models.Artifact{
		Filename:        name,
		Subfolder:       ref.subfolder,
		Type:            ref.kind,
		Kind:            kind,
		Extension:       ext,
		SourceNodeID:    nodeID,
		SourceNodeClass: class,
	}, true
}

type fileRef struct {
	filename  string
	subfolder string
	kind      string
}

func fileRefs(v any) []fileRef {
	switch t := v.(type) {
	case string:
		return []fileRef{{filename: t, kind: "output"}}
	case map[string]any:
		name, _ := t["filename"].(string)
		if name == "" {
			return nil
		}
		sub, _ := t["subfolder"].(string)
		kind, _ := t["type"].(string)
		if kind == "" {
			kind = "output"
		}
		return []fileRef{{filename: name, subfolder: sub, kind: kind}}
	case []any:
		var refs []fileRef
		for _, e := range t {
			refs = append(refs, fileRefs(e)...)
		}
		return refs
	default:
		return nil
	}
}

func orderedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for _, k := range preferredKeys {
		if _, ok := m[k]; ok {
			keys = append(keys, k)
		}
	}
	var rest []string
	for k := range m {
		if !contains(preferredKeys, k) {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
