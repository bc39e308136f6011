package relevance

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	reMDLink   = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	reMDBold   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	reMDItalic = regexp.MustCompile(`\*([^*\n]+)\*`)
	reMDStrike = regexp.MustCompile(`~~(.+?)~~`)

	reSlackLink   = regexp.MustCompile(`<(https?://[^|>]+)\|([^>]+)>`)
	reSlackBold   = regexp.MustCompile(`\*([^*\n]+)\*`)
	reSlackItalic = regexp.MustCompile(`\b_([^_\n]+)_\b`)
	reSlackStrike = regexp.MustCompile(`~([^~\n]+)~`)
)

// MarkdownToMrkdwn converts standard inline markdown to the chat
// platform's mrkdwn dialect. Code spans pass through untouched. Text
// without markup is returned unchanged.
func MarkdownToMrkdwn(text string) string {
	if text == "" {
		return ""
	}

	codeBlocks := extractCodeBlocks(text)
	text = codeBlocks.text
	inlineCodes := extractInlineCodes(text)
	text = inlineCodes.text

	// Bold is stashed before the italic pass so **x** never reads as
	// two italic markers.
	var bolds []string
	text = reMDBold.ReplaceAllStringFunc(text, func(s string) string {
		m := reMDBold.FindStringSubmatch(s)
		bolds = append(bolds, m[1])
		return fmt.Sprintf("\x00BD%d\x00", len(bolds)-1)
	})

	text = reMDItalic.ReplaceAllString(text, "_${1}_")
	text = reMDStrike.ReplaceAllString(text, "~$1~")
	text = reMDLink.ReplaceAllString(text, "<$2|$1>")

	for i, b := range bolds {
		text = strings.ReplaceAll(text, fmt.Sprintf("\x00BD%d\x00", i), "*"+b+"*")
	}
	text = inlineCodes.restore(text)
	text = codeBlocks.restore(text)
	return text
}

// MrkdwnToMarkdown is the inverse conversion, applied when platform
// messages are handed to callers that expect standard markdown.
func MrkdwnToMarkdown(text string) string {
	if text == "" {
		return ""
	}

	codeBlocks := extractCodeBlocks(text)
	text = codeBlocks.text
	inlineCodes := extractInlineCodes(text)
	text = inlineCodes.text

	text = reSlackLink.ReplaceAllString(text, "[$2]($1)")
	text = reSlackBold.ReplaceAllString(text, "**$1**")
	text = reSlackItalic.ReplaceAllString(text, "*$1*")
	text = reSlackStrike.ReplaceAllString(text, "~~$1~~")

	text = inlineCodes.restore(text)
	text = codeBlocks.restore(text)
	return text
}

type codeSpans struct {
	text   string
	codes  []string
	format string
	wrap   string
}

var reCodeBlock = regexp.MustCompile("```[\\w]*\\n?([\\s\\S]*?)```")
var reInlineCode = regexp.MustCompile("`([^`\n]+)`")

func extractCodeBlocks(text string) codeSpans {
	return extractSpans(text, reCodeBlock, "\x00CB%d\x00", "```")
}

func extractInlineCodes(text string) codeSpans {
	return extractSpans(text, reInlineCode, "\x00IC%d\x00", "`")
}

func extractSpans(text string, re *regexp.Regexp, format, wrap string) codeSpans {
	matches := re.FindAllStringSubmatch(text, -1)
	codes := make([]string, 0, len(matches))
	for _, m := range matches {
		codes = append(codes, m[1])
	}

	i := 0
	text = re.ReplaceAllStringFunc(text, func(string) string {
		p := fmt.Sprintf(format, i)
		i++
		return p
	})
	return codeSpans{text: text, codes: codes, format: format, wrap: wrap}
}

func (c codeSpans) restore(text string) string {
	for i, code := range c.codes {
		body := c.wrap + code + c.wrap
		if c.wrap == "```" {
			body = "```\n" + code + "```"
		}
		text = strings.ReplaceAll(text, fmt.Sprintf(c.format, i), body)
	}
	return text
}
