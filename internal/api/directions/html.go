package directions

import (
	"strings"

	"golang.org/x/net/html"
)

// StripTags 去掉导航步骤说明中的 HTML 标签，保留文本并压缩空白
func StripTags(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}

	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			// 块级标签（如 <div>）之间补一个空格，避免单词粘连
			name, _ := z.TagName()
			if string(name) == "div" || string(name) == "br" {
				b.WriteByte(' ')
			}
		}
	}
}
