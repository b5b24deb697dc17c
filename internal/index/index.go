// Package index 维护向量索引与元数据日志这一对结构，保证二者行号严格一一对应。
package index

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"quarry-go/internal/model"
	"quarry-go/pkg/log"
)

const (
	metaFile    = "meta.jsonl"
	seqFile     = "meta.seq"
	vectorsFile = "vectors.bin"

	idWidth = 8
)

// ErrInvalidDimension 表示配置的向量维度不合法。
var ErrInvalidDimension = errors.New("invalid vector dimension")

// Match 是一次检索命中：行号、得分以及同一快照中的记录。
type Match struct {
	Row    int
	Score  float32
	Record model.ImageRecord
}

// Index 拥有一个数据目录下的 VectorIndex 与 MetadataLog。
//
// commitMu 让写入方串行（包括为预留 id 持久化原图的步骤）；mu 只在内存中的双追加期间被写锁住，
// 因此慢的写入方不会阻塞检索。读方通过 mu.RLock 看到一致快照。
type Index struct {
	dir string
	dim int

	commitMu sync.Mutex
	mu       sync.RWMutex
	vectors  *VectorIndex
	meta     *MetadataLog
	next     uint64
}

// Open 从 dir 中恢复索引；目录为空时得到空索引。
// 上次进程在两份文件之间崩溃时丢弃多余的向量行；元数据多于向量时返回 ErrCorruptVectors。
func Open(dir string, dim int) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDimension, dim)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	meta := NewMetadataLog(filepath.Join(dir, metaFile))
	if err := meta.Load(); err != nil {
		return nil, err
	}
	vectors, err := loadVectorFile(filepath.Join(dir, vectorsFile), dim)
	if err != nil {
		return nil, err
	}

	seq, err := readSeq(filepath.Join(dir, seqFile))
	if err != nil {
		return nil, err
	}

	// 提交时先写向量再写元数据，崩溃只会留下多余的向量行。
	// 元数据多于向量说明向量文件丢失或损坏，拒绝启动，保留元数据日志原样。
	nv, nm := vectors.Len(), meta.Len()
	if nm > nv {
		return nil, fmt.Errorf("%w: %s has %d rows, %s has %d records", ErrCorruptVectors, vectorsFile, nv, metaFile, nm)
	}

	// 计数器取截断前的最大行数，被截掉的 id 不会再次分配
	x := &Index{dir: dir, dim: dim, vectors: vectors, meta: meta}
	x.next = max(seq, uint64(nv), uint64(nm))

	if nv != nm {
		log.Warnf("[Index] 向量行数 %d 多于元数据行数 %d，丢弃多余的向量", nv, nm)
		vectors.truncate(nm)
	}
	if nv != nm || !vectorFileAligned(filepath.Join(dir, vectorsFile), vectors) {
		if err := x.persist(); err != nil {
			return nil, err
		}
	}

	log.Infof("[Index] 已加载索引, 目录: %s, 维度: %d, 记录数: %d", dir, dim, meta.Len())
	return x, nil
}

// Dir 返回数据目录。
func (x *Index) Dir() string { return x.dir }

// Dimension 返回向量维度。
func (x *Index) Dimension() int { return x.dim }

// Len 返回记录数。
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.meta.Len()
}

// Get 按 id 查找记录。
func (x *Index) Get(id string) (model.ImageRecord, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.meta.Get(id)
}

// List 按插入顺序返回全部记录。
func (x *Index) List() []model.ImageRecord {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.meta.List()
}

// Search 在同一把读锁下完成向量检索和行号到记录的解析。q 必须已归一化。
func (x *Index) Search(q []float32, k int) ([]Match, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	hits, err := x.vectors.Search(q, k)
	if err != nil {
		return nil, err
	}
	out := make([]Match, 0, len(hits))
	for _, h := range hits {
		rec, ok := x.meta.At(h.Row)
		if !ok {
			// 行号对应关系被破坏，不能返回错配的记录
			return nil, fmt.Errorf("vector row %d has no metadata record (size %d)", h.Row, x.meta.Len())
		}
		out = append(out, Match{Row: h.Row, Score: h.Score, Record: rec})
	}
	return out, nil
}

// BuildFunc 根据分配到的 id 构造记录。它在提交锁内、数据锁外运行，
// 可以用来持久化以 id 为键的附属文件；返回错误时本次提交放弃，id 不被消耗。
type BuildFunc func(ctx context.Context, id string) (model.ImageRecord, error)

// Commit 分配下一个 id，调用 build 构造记录，然后把向量和记录作为一个整体追加。
// 任一步失败都不会留下只有一侧的行。
func (x *Index) Commit(ctx context.Context, vec []float32, build BuildFunc) (model.ImageRecord, error) {
	if len(vec) != x.dim {
		return model.ImageRecord{}, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), x.dim)
	}

	x.commitMu.Lock()
	defer x.commitMu.Unlock()

	id := FormatID(x.next)
	rec, err := build(ctx, id)
	if err != nil {
		return model.ImageRecord{}, err
	}
	rec.ID = id

	// 文件追加只需要 commitMu，检索在落盘期间不被阻塞
	vecPath := filepath.Join(x.dir, vectorsFile)
	if err := ensureVectorHeader(vecPath, x.dim); err != nil {
		return model.ImageRecord{}, err
	}
	prev, err := appendFile(vecPath, encodeRow(vec))
	if err != nil {
		return model.ImageRecord{}, fmt.Errorf("append vector file: %w", err)
	}
	if _, err := x.meta.appendLine(rec); err != nil {
		if terr := os.Truncate(vecPath, prev); terr != nil {
			log.Errorf("[Index] 回滚向量文件失败, path: %s, error: %v", vecPath, terr)
		}
		return model.ImageRecord{}, err
	}

	x.mu.Lock()
	row := x.meta.push(rec)
	vrow, err := x.vectors.Add(vec)
	x.mu.Unlock()
	if err != nil || vrow != row {
		// 维度已提前校验，走到这里说明两份结构已经错位
		panic(fmt.Sprintf("index: vector row %d != metadata row %d (err=%v)", vrow, row, err))
	}
	x.next++
	return rec, nil
}

// Save 把两份结构和 id 计数器整体重写到磁盘。
func (x *Index) Save() error {
	x.commitMu.Lock()
	defer x.commitMu.Unlock()
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.persist()
}

// Close 在退出前落盘。
func (x *Index) Close() error {
	return x.Save()
}

func (x *Index) persist() error {
	var buf bytes.Buffer
	if _, err := x.vectors.WriteTo(&buf); err != nil {
		return fmt.Errorf("encode vectors: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(x.dir, vectorsFile), buf.Bytes()); err != nil {
		return fmt.Errorf("save vectors: %w", err)
	}
	if err := x.meta.Save(); err != nil {
		return err
	}
	seq := strconv.FormatUint(max(x.next, uint64(x.meta.Len())), 10)
	if err := writeFileAtomic(filepath.Join(x.dir, seqFile), []byte(seq+"\n")); err != nil {
		return fmt.Errorf("save id counter: %w", err)
	}
	return nil
}

// FormatID 把计数器格式化为 8 位补零的十进制 id。
func FormatID(n uint64) string {
	return fmt.Sprintf("%0*d", idWidth, n)
}

func readSeq(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read id counter: %w", err)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse id counter: %w", err)
	}
	return n, nil
}

func ensureVectorHeader(path string, dim int) error {
	info, err := os.Stat(path)
	if err == nil && info.Size() >= vectorHeaderSize {
		return nil
	}
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("stat vector file: %w", err)
	}
	return writeFileAtomic(path, encodeHeader(dim))
}

// vectorFileAligned 判断文件长度是否恰好等于头部加完整的行，末尾残缺的行需要重写掉。
func vectorFileAligned(path string, v *VectorIndex) bool {
	info, err := os.Stat(path)
	if err != nil {
		return os.IsNotExist(err)
	}
	return info.Size() == int64(vectorHeaderSize+4*v.dim*v.Len())
}
