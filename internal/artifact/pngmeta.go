package artifact

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"os"

	"github.com/kiranshivaraju/genrelay/internal/fsutil"
)

// Text chunk keywords written into produced PNGs.
const (
	MetadataKey = "GenrelayMetadata"
	WorkflowKey = "GenrelayWorkflow"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

var ErrNotPNG = errors.New("not a png file")

// EmbedPNGMetadata inserts the metadata (and the workflow, when non-nil) as
// tEXt chunks before IEND. Files without a PNG signature are left untouched
// and report ErrNotPNG.
func EmbedPNGMetadata(path string, metadata map[string]any, workflow any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading png: %w", err)
	}
	if !bytes.HasPrefix(data, pngSignature) {
		return ErrNotPNG
	}

	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	chunks := [][]byte{textChunk(MetadataKey, meta)}
	if workflow != nil {
		wf, err := json.Marshal(workflow)
		if err != nil {
			return fmt.Errorf("encoding workflow: %w", err)
		}
		chunks = append(chunks, textChunk(WorkflowKey, wf))
	}

	out, err := insertBeforeIEND(data, bytes.Join(chunks, nil))
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, out)
}

func insertBeforeIEND(data, payload []byte) ([]byte, error) {
	offset := len(pngSignature)
	for offset+8 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[offset : offset+4]))
		kind := string(data[offset+4 : offset+8])
		if kind == "IEND" {
			out := make([]byte, 0, len(data)+len(payload))
			out = append(out, data[:offset]...)
			out = append(out, payload...)
			return append(out, data[offset:]...), nil
		}
		offset += 12 + length
	}
	return nil, fmt.Errorf("png has no IEND chunk")
}

func textChunk(key string, text []byte) []byte {
	body := make([]byte, 0, len(key)+1+len(text))
	body = append(body, key...)
	body = append(body, 0)
	body = append(body, text...)

	chunk := make([]byte, 8, 12+len(body))
	binary.BigEndian.PutUint32(chunk[:4], uint32(len(body)))
	copy(chunk[4:8], "tEXt")
	chunk = append(chunk, body...)

	crc := crc32.NewIEEE()
	crc.Write(chunk[4:])
	return binary.BigEndian.AppendUint32(chunk, crc.Sum32())
}

// ReadPNGText returns the tEXt chunks of a PNG keyed by keyword.
func ReadPNGText(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(data, pngSignature) {
		return nil, ErrNotPNG
	}
	out := make(map[string]string)
	offset := len(pngSignature)
	for offset+8 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[offset : offset+4]))
		kind := string(data[offset+4 : offset+8])
		end := offset + 8 + length
		if end > len(data) {
			break
		}
		if kind == "tEXt" {
			body := data[offset+8 : end]
			if i := bytes.IndexByte(body, 0); i > 0 {
				out[string(body[:i])] = string(body[i+1:])
			}
		}
		if kind == "IEND" {
			break
		}
		offset = end + 4
	}
	return out, nil
}
