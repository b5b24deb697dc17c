package index

import (
	"bufio"
	"container/heap"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

var (
	// ErrDimensionMismatch 表示向量长度与索引维度不一致。
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrZeroVector 表示无法对零向量做 L2 归一化。
	ErrZeroVector = errors.New("zero-norm vector")
	// ErrCorruptVectors 表示向量文件损坏，或行数少于元数据日志。
	ErrCorruptVectors = errors.New("corrupt vector file")
)

var vectorMagic = [4]byte{'Q', 'V', 'E', 'C'}

const vectorHeaderSize = 8

// Hit 是一次向量检索命中的行号与内积得分。
type Hit struct {
	Row   int
	Score float32
}

// VectorIndex 是只追加的单位向量集合，按行号存放在一段连续内存中。
// 检索为精确的暴力内积。VectorIndex 本身不加锁，由 Index 负责同步。
type VectorIndex struct {
	dim  int
	data []float32
}

// NewVectorIndex 创建维度为 dim 的空索引。
func NewVectorIndex(dim int) *VectorIndex {
	return &VectorIndex{dim: dim}
}

// Dim 返回向量维度。
func (v *VectorIndex) Dim() int { return v.dim }

// Len 返回已存放的行数。
func (v *VectorIndex) Len() int {
	if v.dim == 0 {
		return 0
	}
	return len(v.data) / v.dim
}

// Row 返回第 i 行向量的只读视图。
func (v *VectorIndex) Row(i int) []float32 {
	return v.data[i*v.dim : (i+1)*v.dim]
}

// Add 把 vec 追加为下一行并返回行号。
func (v *VectorIndex) Add(vec []float32) (int, error) {
	if len(vec) != v.dim {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), v.dim)
	}
	row := v.Len()
	v.data = append(v.data, vec...)
	return row, nil
}

// Search 返回与 q 内积最大的至多 min(k, Len) 行，得分降序，同分时行号小者在前。
func (v *VectorIndex) Search(q []float32, k int) ([]Hit, error) {
	n := v.Len()
	if n == 0 || k <= 0 {
		return []Hit{}, nil
	}
	if len(q) != v.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(q), v.dim)
	}
	if k > n {
		k = n
	}

	h := make(hitHeap, 0, k)
	for row := 0; row < n; row++ {
		hit := Hit{Row: row, Score: dot(q, v.Row(row))}
		if len(h) < k {
			heap.Push(&h, hit)
			continue
		}
		if better(hit, h[0]) {
			h[0] = hit
			heap.Fix(&h, 0)
		}
	}

	out := make([]Hit, len(h))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&h).(Hit)
	}
	return out, nil
}

// truncate 丢弃 n 行之后的数据，仅用于启动时对齐两份文件。
func (v *VectorIndex) truncate(n int) {
	v.data = v.data[:n*v.dim]
}

// better 判断 a 是否应排在 b 之前。
func better(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Row < b.Row
}

// hitHeap 是以"最差命中"为堆顶的小顶堆。
type hitHeap []Hit

func (h hitHeap) Len() int            { return len(h) }
func (h hitHeap) Less(i, j int) bool  { return better(h[j], h[i]) }
func (h hitHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x interface{}) { *h = append(*h, x.(Hit)) }
func (h *hitHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func dot(a, b []float32) float32 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}

// Normalize 返回 vec 的 L2 归一化副本。
func Normalize(vec []float32) ([]float32, error) {
	var norm2 float64
	for _, x := range vec {
		norm2 += float64(x) * float64(x)
	}
	if norm2 == 0 || math.IsNaN(norm2) || math.IsInf(norm2, 0) {
		return nil, ErrZeroVector
	}
	inv := 1 / math.Sqrt(norm2)
	out := make([]float32, len(vec))
	for i, x := range vec {
		out[i] = float32(float64(x) * inv)
	}
	return out, nil
}

// 文件格式: "QVEC" | dim uint32 LE | 行数据(float32 LE)。
// 行数由文件长度推出，末尾不完整的行被忽略。

// WriteTo 把整个索引写成向量文件格式。
func (v *VectorIndex) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var header [vectorHeaderSize]byte
	copy(header[:4], vectorMagic[:])
	binary.LittleEndian.PutUint32(header[4:], uint32(v.dim))
	if _, err := bw.Write(header[:]); err != nil {
		return 0, err
	}
	if len(v.data) > 0 {
		if err := binary.Write(bw, binary.LittleEndian, v.data); err != nil {
			return 0, err
		}
	}
	if err := bw.Flush(); err != nil {
		return 0, err
	}
	return int64(vectorHeaderSize + 4*len(v.data)), nil
}

// ReadVectors 从 r 中读取向量文件。dim 与文件头不一致时返回 ErrDimensionMismatch。
func ReadVectors(r io.Reader, dim int) (*VectorIndex, error) {
	br := bufio.NewReader(r)
	var header [vectorHeaderSize]byte
	if _, err := io.ReadFull(br, header[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptVectors, err)
	}
	if [4]byte(header[:4]) != vectorMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptVectors)
	}
	fileDim := int(binary.LittleEndian.Uint32(header[4:]))
	if fileDim != dim {
		return nil, fmt.Errorf("%w: file has %d, configured %d", ErrDimensionMismatch, fileDim, dim)
	}

	v := NewVectorIndex(dim)
	row := make([]float32, dim)
	for {
		if err := binary.Read(br, binary.LittleEndian, row); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, err
		}
		v.data = append(v.data, row...)
	}
	return v, nil
}

func loadVectorFile(path string, dim int) (*VectorIndex, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return NewVectorIndex(dim), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open vector file: %w", err)
	}
	defer f.Close()
	return ReadVectors(f, dim)
}

func encodeRow(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, x := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func encodeHeader(dim int) []byte {
	header := make([]byte, vectorHeaderSize)
	copy(header[:4], vectorMagic[:])
	binary.LittleEndian.PutUint32(header[4:], uint32(dim))
	return header
}
