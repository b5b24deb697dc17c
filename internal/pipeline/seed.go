package pipeline

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"quarry-go/pkg/log"
)

// seedChunk 限制一次读入内存的种子图片数量。
const seedChunk = 32

var seedExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true}

// ImportDir 导入目录（含子目录）下的图片，文件名已在索引中出现过的跳过，
// 因此重复启动不会重复入库。返回新导入的数量。
func (p *Processor) ImportDir(ctx context.Context, dir string) (int, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("[Seed] 目录 '%s' 不存在或不可用，跳过初始化导入", dir)
		return 0, nil
	}

	seen := make(map[string]bool)
	for _, rec := range p.index.List() {
		seen[rec.Filename] = true
	}

	var paths []string
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Warnf("[Seed] 访问路径失败: %s, err=%v", path, err)
			return nil
		}
		if d.IsDir() || !seedExts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		if seen[d.Name()] {
			log.Debugf("[Seed] 已存在，跳过: %s", d.Name())
			return nil
		}
		seen[d.Name()] = true
		paths = append(paths, path)
		return nil
	})
	if walkErr != nil {
		return 0, walkErr
	}
	if len(paths) == 0 {
		log.Infof("[Seed] 目录 '%s' 没有需要导入的图片", dir)
		return 0, nil
	}

	imported := 0
	for start := 0; start < len(paths); start += seedChunk {
		if err := ctx.Err(); err != nil {
			return imported, err
		}
		end := min(start+seedChunk, len(paths))
		reqs := make([]IngestRequest, 0, end-start)
		for _, path := range paths[start:end] {
			data, err := os.ReadFile(path)
			if err != nil {
				log.Warnf("[Seed] 读取文件失败: %s, err=%v", path, err)
				continue
			}
			reqs = append(reqs, IngestRequest{Data: data, Filename: filepath.Base(path)})
		}
		items, err := p.ProcessBatch(ctx, reqs)
		if err != nil {
			return imported, err
		}
		for _, it := range items {
			if it.Err != nil {
				log.Warnf("[Seed] 导入失败: %s, err=%v", it.Filename, it.Err)
				continue
			}
			imported++
		}
	}
	log.Infof("[Seed] 初始化导入完成, 目录: %s, 新增: %d", dir, imported)
	return imported, nil
}
