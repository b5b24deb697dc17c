// Package classify 用关键词规则粗略判断截图的内容类型。
package classify

import "strings"

// DefaultThreshold 是规则生效所需的最少关键词命中数。
const DefaultThreshold = 2

// Rule 是一条有序规则：Keywords 中至少 Threshold 个以子串形式出现在小写文本中即命中。
type Rule struct {
	Label     string
	Keywords  []string
	Threshold int
}

// DefaultRules 按优先级排列，前面的规则在歧义时优先。
var DefaultRules = []Rule{
	{Label: "receipt", Keywords: []string{"total", "subtotal", "visa", "mastercard", "amount due", "invoice"}, Threshold: DefaultThreshold},
	{Label: "booking", Keywords: []string{"booking", "pnr", "reservation", "itinerary", "check-in", "flight"}, Threshold: DefaultThreshold},
	{Label: "chat", Keywords: []string{"sent", "delivered", "pm", ":", "am", "today", "yesterday"}, Threshold: DefaultThreshold},
	{Label: "code", Keywords: []string{"error", "exception", "function", "class", " var ", " const ", " def "}, Threshold: DefaultThreshold},
	{Label: "slide", Keywords: []string{"slide", "presentation", "agenda"}, Threshold: DefaultThreshold},
	{Label: "whiteboard", Keywords: []string{"whiteboard", "marker", "sketch"}, Threshold: DefaultThreshold},
	{Label: "article", Keywords: []string{"read more", "subscribe", "by ", "comments"}, Threshold: DefaultThreshold},
	{Label: "map", Keywords: []string{"directions", "km", "mi", "route"}, Threshold: DefaultThreshold},
}

// Classifier 按顺序评估规则，第一条达到阈值的规则胜出。
type Classifier struct {
	rules []Rule
}

// New 使用给定规则创建 Classifier；rules 为空时使用 DefaultRules。
func New(rules []Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Classifier{rules: rules}
}

// Classify 返回命中的标签，没有规则达到阈值时返回 nil。
func (c *Classifier) Classify(text string) *string {
	t := strings.ToLower(text)
	for _, r := range c.rules {
		threshold := r.Threshold
		if threshold <= 0 {
			threshold = DefaultThreshold
		}
		hits := 0
		for _, kw := range r.Keywords {
			if strings.Contains(t, kw) {
				hits++
			}
		}
		if hits >= threshold {
			label := r.Label
			return &label
		}
	}
	return nil
}
