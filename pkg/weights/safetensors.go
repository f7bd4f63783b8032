package weights

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"

	"blockbench/pkg/tensor"
)

// safetensorsHeaderLimit bounds the JSON header. Real headers are a few KiB.
const safetensorsHeaderLimit = 100 << 20

type safetensorEntry struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// isSafetensorsHeader reports whether the first 8 bytes of a file decode to a
// plausible safetensors header length.
func isSafetensorsHeader(magic []byte) bool {
	if len(magic) < 8 {
		return false
	}
	n := binary.LittleEndian.Uint64(magic)
	return n > 0 && n < safetensorsHeaderLimit
}

// LoadSafetensors reads every tensor of a safetensors file as float32.
func LoadSafetensors(path string) (StateDict, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var n int64
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("failed to read safetensors header length: %w", err)
	}
	if n <= 0 || n > safetensorsHeaderLimit {
		return nil, fmt.Errorf("%w: header length %d out of range", ErrUnsupportedFormat, n)
	}

	b := bytes.NewBuffer(make([]byte, 0, n))
	if _, err = io.CopyN(b, f, n); err != nil {
		return nil, fmt.Errorf("failed to read safetensors header: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	var headers map[string]json.RawMessage
	if err := json.NewDecoder(b).Decode(&headers); err != nil {
		return nil, fmt.Errorf("failed to decode safetensors header: %w", err)
	}

	sd := make(StateDict, len(headers))
	for name, raw := range headers {
		if name == "__metadata__" {
			continue
		}

		var entry safetensorEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("tensor %q: %w", name, err)
		}

		t, err := readSafetensor(f, 8+n, info.Size(), entry)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", name, err)
		}
		sd[name] = t
	}

	return sd, nil
}

func readSafetensor(r io.ReaderAt, base, fileSize int64, entry safetensorEntry) (*tensor.Tensor, error) {
	width, err := safetensorWidth(entry.DType)
	if err != nil {
		return nil, err
	}

	begin, end := entry.DataOffsets[0], entry.DataOffsets[1]
	if begin < 0 || end < begin || end > fileSize-base {
		return nil, fmt.Errorf("%w: data offsets [%d, %d) outside of %d data bytes",
			ErrUnsupportedFormat, begin, end, fileSize-base)
	}

	// numel stays within end-begin, which the file size bounds
	numel := int64(1)
	for _, d := range entry.Shape {
		if d < 0 {
			return nil, fmt.Errorf("%w: negative dimension in shape %v", ErrUnsupportedFormat, entry.Shape)
		}
		if d > 0 && numel > (end-begin)/int64(d) {
			return nil, fmt.Errorf("%w: shape %v does not fit in %d bytes", ErrUnsupportedFormat, entry.Shape, end-begin)
		}
		numel *= int64(d)
	}

	if end-begin != numel*int64(width) {
		return nil, fmt.Errorf("%w: data offsets [%d, %d) hold %d bytes, shape %v needs %d",
			ErrUnsupportedFormat, begin, end, end-begin, entry.Shape, numel*int64(width))
	}

	raw := make([]byte, end-begin)
	if _, err := r.ReadAt(raw, base+begin); err != nil {
		return nil, err
	}

	data := make([]float32, numel)
	switch entry.DType {
	case "F32":
		for i := range data {
			data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
		}
	case "F16":
		for i := range data {
			data[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[2*i:])).Float32()
		}
	case "BF16":
		for i := range data {
			data[i] = bfloat16.ToFloat32(bfloat16.FromBytes(raw[2*i:]))
		}
	}

	return tensor.Wrap(data, entry.Shape)
}

func safetensorWidth(dtype string) (int, error) {
	switch dtype {
	case "F32":
		return 4, nil
	case "F16", "BF16":
		return 2, nil
	default:
		return 0, fmt.Errorf("unsupported safetensors dtype %q", dtype)
	}
}

func safetensorName(d tensor.DType) (string, error) {
	switch d {
	case tensor.Float32:
		return "F32", nil
	case tensor.Float16:
		return "F16", nil
	case tensor.BFloat16:
		return "BF16", nil
	default:
		return "", fmt.Errorf("%w: %v", tensor.ErrUnknownDType, d)
	}
}

// SaveSafetensors writes sd to path with every tensor stored at precision d.
func SaveSafetensors(path string, sd StateDict, d tensor.DType) (err error) {
	dtype, err := safetensorName(d)
	if err != nil {
		return err
	}

	keys := sd.Keys()
	headers := make(map[string]any, len(keys)+1)
	headers["__metadata__"] = map[string]string{"format": "pt"}

	var offset int64
	for _, k := range keys {
		t := sd[k]
		size := int64(t.Size() * d.Size())
		headers[k] = safetensorEntry{DType: dtype, Shape: t.Shape, DataOffsets: [2]int64{offset, offset + size}}
		offset += size
	}

	header, err := json.Marshal(headers)
	if err != nil {
		return err
	}
	// pad so tensor data starts 8-byte aligned
	if pad := len(header) % 8; pad != 0 {
		header = append(header, bytes.Repeat([]byte(" "), 8-pad)...)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()

	if err := binary.Write(f, binary.LittleEndian, uint64(len(header))); err != nil {
		return err
	}
	if _, err := f.Write(header); err != nil {
		return err
	}

	for _, k := range keys {
		if _, err := f.Write(encode(sd[k].Data, d)); err != nil {
			return fmt.Errorf("failed to write tensor %q: %w", k, err)
		}
	}
	return nil
}

func encode(data []float32, d tensor.DType) []byte {
	switch d {
	case tensor.BFloat16:
		out := make([]byte, 2*len(data))
		for i, v := range data {
			copy(out[2*i:], bfloat16.ToBytes(tensor.ToBFloat16(v)))
		}
		return out
	case tensor.Float16:
		out := make([]byte, 2*len(data))
		for i, v := range data {
			binary.LittleEndian.PutUint16(out[2*i:], float16.Fromfloat32(v).Bits())
		}
		return out
	default:
		out := make([]byte, 4*len(data))
		for i, v := range data {
			binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
		}
		return out
	}
}
