package ocr

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"quarry-go/internal/config"
	"quarry-go/internal/model"
	"quarry-go/pkg/log"
)

// Tesseract 通过命令行调用 tesseract，以 TSV 格式拿到单词级别的分块。
type Tesseract struct {
	path     string
	language string
}

// NewTesseract 创建一个 Tesseract 识别器。
func NewTesseract(cfg config.OCRConfig) *Tesseract {
	path := cfg.TesseractPath
	if path == "" {
		path = "tesseract"
	}
	return &Tesseract{path: path, language: cfg.Language}
}

// Recognize 把图片经 stdin 传给 tesseract 并解析 TSV 输出。
func (t *Tesseract) Recognize(ctx context.Context, img image.Image, raw []byte) (Result, error) {
	input := raw
	if len(input) == 0 {
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return Result{}, fmt.Errorf("encode image for tesseract: %w", err)
		}
		input = buf.Bytes()
	}

	args := []string{"stdin", "stdout"}
	if t.language != "" {
		args = append(args, "-l", t.language)
	}
	args = append(args, "tsv")

	cmd := exec.CommandContext(ctx, t.path, args...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		log.Errorf("[Tesseract] 执行失败, error: %v, stderr: %s", err, strings.TrimSpace(stderr.String()))
		return Result{}, fmt.Errorf("run tesseract: %w", err)
	}
	return ParseTSV(&stdout)
}

// ParseTSV 解析 tesseract 的 TSV 输出，保留文本非空的行。
// conf 无法解析时记为 -1；全文为各单词以单个空格连接。
func ParseTSV(r io.Reader) (Result, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var (
		blocks []model.OCRBlock
		words  []string
		cols   map[string]int
	)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if cols == nil {
			cols = make(map[string]int, len(fields))
			for i, name := range fields {
				cols[name] = i
			}
			for _, name := range []string{"left", "top", "width", "height", "conf", "text"} {
				if _, ok := cols[name]; !ok {
					return Result{}, fmt.Errorf("tesseract tsv: missing column %q", name)
				}
			}
			continue
		}
		if len(fields) <= cols["text"] {
			continue
		}
		text := fields[cols["text"]]
		if strings.TrimSpace(text) == "" {
			continue
		}
		conf, err := strconv.ParseFloat(fields[cols["conf"]], 64)
		if err != nil {
			conf = -1
		}
		blocks = append(blocks, model.OCRBlock{
			Text: text,
			Conf: conf,
			BBox: model.BBox{
				X: atoi(fields[cols["left"]]),
				Y: atoi(fields[cols["top"]]),
				W: atoi(fields[cols["width"]]),
				H: atoi(fields[cols["height"]]),
			},
		})
		words = append(words, text)
	}
	if err := sc.Err(); err != nil {
		return Result{}, fmt.Errorf("read tesseract tsv: %w", err)
	}
	if blocks == nil {
		blocks = []model.OCRBlock{}
	}
	return Result{
		Text:   strings.TrimSpace(strings.Join(words, " ")),
		Blocks: blocks,
	}, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
