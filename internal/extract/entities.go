// Package extract 从 OCR 文本中抽取结构化实体。
package extract

import (
	"regexp"

	"quarry-go/internal/model"
)

type pattern struct {
	category string
	re       *regexp.Regexp
}

// 顺序与 model.EntityCategories 一致。
// code 规则故意粗糙，全大写单词也会命中。
var patterns = []pattern{
	{model.EntityURL, regexp.MustCompile(`(?i)https?://[\w\-._~:/?#\[\]@!$&'()*+,;=%]+`)},
	{model.EntityEmail, regexp.MustCompile(`(?i)[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}`)},
	{model.EntityPhone, regexp.MustCompile(`(?:\+\d{1,3}[ \-]?)?(?:\(?\d{3}\)?[ \-]?)?\d{3}[ \-]?\d{4}`)},
	{model.EntityDate, regexp.MustCompile(`\b(?:\d{1,2}[/-]\d{1,2}[/-]\d{2,4}|\d{1,2}\s+[A-Za-z]{3,9}\s+\d{2,4})\b`)},
	{model.EntityAmount, regexp.MustCompile(`\$\s?\d{1,3}(?:,\d{3})*(?:\.\d{2})?`)},
	{model.EntityCode, regexp.MustCompile(`\b[A-Z0-9]{5,8}\b`)},
}

// Extract 返回 text 中的实体。没有任何命中的类别不会出现在结果中，
// 每个类别内的值按首次出现的顺序去重。
func Extract(text string) model.Entities {
	out := make(model.Entities)
	for _, p := range patterns {
		matches := p.re.FindAllString(text, -1)
		if len(matches) == 0 {
			continue
		}
		out[p.category] = dedupe(matches)
	}
	return out
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
