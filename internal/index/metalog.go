package index

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"quarry-go/internal/model"
)

// ErrDuplicateID 表示追加的记录 id 已存在。
var ErrDuplicateID = errors.New("duplicate record id")

// MetadataLog 是按插入顺序保存 ImageRecord 的 JSONL 日志，并维护 id 到行号的映射。
// 与 VectorIndex 一样不加锁。
type MetadataLog struct {
	path    string
	records []model.ImageRecord
	rows    map[string]int
}

// NewMetadataLog 创建一个以 path 为持久化文件的空日志，需调用 Load 读取已有数据。
func NewMetadataLog(path string) *MetadataLog {
	return &MetadataLog{
		path: path,
		rows: make(map[string]int),
	}
}

// Load 重放日志文件，重建内存列表与 id 映射。文件不存在时得到空日志。
func (m *MetadataLog) Load() error {
	m.records = nil
	m.rows = make(map[string]int)

	f, err := os.Open(m.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open metadata log: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec model.ImageRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode metadata log line %d: %w", line, err)
		}
		if _, dup := m.rows[rec.ID]; dup {
			return fmt.Errorf("metadata log line %d: %w: %s", line, ErrDuplicateID, rec.ID)
		}
		m.rows[rec.ID] = len(m.records)
		m.records = append(m.records, rec)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read metadata log: %w", err)
	}
	return nil
}

// Append 把记录写入日志文件末尾，成功后再更新内存，返回记录及其行号。
// 写入失败时文件被截回原长度，内存不变。
func (m *MetadataLog) Append(rec model.ImageRecord) (model.ImageRecord, int, error) {
	if _, err := m.appendLine(rec); err != nil {
		return model.ImageRecord{}, 0, err
	}
	return rec, m.push(rec), nil
}

// appendLine 只写文件，返回写入前的文件长度，供调用方回滚。
func (m *MetadataLog) appendLine(rec model.ImageRecord) (int64, error) {
	if _, dup := m.rows[rec.ID]; dup {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("encode record: %w", err)
	}
	line = append(line, '\n')
	prev, err := appendFile(m.path, line)
	if err != nil {
		return 0, fmt.Errorf("append metadata log: %w", err)
	}
	return prev, nil
}

// push 只更新内存，返回新记录的行号。
func (m *MetadataLog) push(rec model.ImageRecord) int {
	row := len(m.records)
	m.records = append(m.records, rec)
	m.rows[rec.ID] = row
	return row
}

// Get 按 id 查找记录，O(1)。
func (m *MetadataLog) Get(id string) (model.ImageRecord, bool) {
	row, ok := m.rows[id]
	if !ok {
		return model.ImageRecord{}, false
	}
	return m.records[row], true
}

// At 返回第 row 行的记录。
func (m *MetadataLog) At(row int) (model.ImageRecord, bool) {
	if row < 0 || row >= len(m.records) {
		return model.ImageRecord{}, false
	}
	return m.records[row], true
}

// List 按插入顺序返回全部记录的副本。
func (m *MetadataLog) List() []model.ImageRecord {
	out := make([]model.ImageRecord, len(m.records))
	copy(out, m.records)
	return out
}

// Len 返回记录数。
func (m *MetadataLog) Len() int {
	return len(m.records)
}

// Save 用内存中的列表整体重写日志文件，写临时文件后 rename，调用方看到的结果要么全部成功要么不变。
func (m *MetadataLog) Save() error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, rec := range m.records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record %s: %w", rec.ID, err)
		}
	}
	if err := writeFileAtomic(m.path, buf.Bytes()); err != nil {
		return fmt.Errorf("save metadata log: %w", err)
	}
	return nil
}

// truncate 丢弃 n 行之后的记录，仅用于启动时对齐两份文件。
func (m *MetadataLog) truncate(n int) {
	for _, rec := range m.records[n:] {
		delete(m.rows, rec.ID)
	}
	m.records = m.records[:n]
}

// syncFile 落盘追加的数据，测试中可替换。
var syncFile = (*os.File).Sync

// appendFile 在 path 末尾追加 data 并 fsync，返回追加前的文件长度。
// 写入失败时把文件截回原长度。
func appendFile(path string, data []byte) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return 0, err
	}
	prev := info.Size()

	_, err = f.Write(data)
	if err == nil {
		err = syncFile(f)
	}
	if err != nil {
		_ = f.Truncate(prev)
		f.Close()
		return prev, err
	}
	return prev, f.Close()
}

// writeFileAtomic 先写同目录下的临时文件，fsync 后 rename 到 path。
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
