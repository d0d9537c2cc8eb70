package parser

import (
	"regexp"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/kimhsiao/notearchive/internal/challenge"
)

const (
	maxHeadingTitle = 500
	maxLineTitle    = 100
)

// hashtagPattern matches #tag preceded by start of text or a non-word rune.
var hashtagPattern = regexp.MustCompile(`(?:^|[^\p{L}\p{N}_&#/])#([\p{L}\p{N}_][\p{L}\p{N}_/-]*)`)

// MarkdownParser implements Parser for Markdown notes.
type MarkdownParser struct {
	md goldmark.Markdown

	// IncludeFrontmatter indicates whether YAML frontmatter is parsed as body
	includeFrontmatter bool
}

// NewMarkdownParser creates a new MarkdownParser.
func NewMarkdownParser() *MarkdownParser {
	return &MarkdownParser{
		md:                 goldmark.New(),
		includeFrontmatter: false, // Skip frontmatter by default
	}
}

// NewMarkdownParserWithFrontmatter creates a MarkdownParser that treats
// frontmatter as ordinary text.
func NewMarkdownParserWithFrontmatter() *MarkdownParser {
	p := NewMarkdownParser()
	p.includeFrontmatter = true
	return p
}

// Parse extracts the title, hashtags and challenge templates of a page.
func (p *MarkdownParser) Parse(markdown string) (*Result, error) {
	if !p.includeFrontmatter {
		markdown = removeFrontmatter(markdown)
	}
	source := []byte(markdown)
	doc := p.md.Parser().Parse(text.NewReader(source))

	var (
		heading   string
		tags      = make(map[string]struct{})
		templates []challenge.Template
		words     int
	)

	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch n.Kind() {
		case ast.KindCodeSpan, ast.KindCodeBlock, ast.KindFencedCodeBlock,
			ast.KindHTMLBlock, ast.KindRawHTML, ast.KindAutoLink:
			return ast.WalkSkipChildren, nil
		case ast.KindHeading:
			if heading == "" {
				heading = strings.TrimSpace(inlineText(n, source))
			}
		case ast.KindParagraph, ast.KindTextBlock:
			if tmpl := blockTemplate(n, source); tmpl != nil {
				templates = append(templates, tmpl)
			}
		case ast.KindText:
			value := string(n.(*ast.Text).Segment.Value(source))
			words += CountWords(value)
			for _, m := range hashtagPattern.FindAllStringSubmatch(value, -1) {
				tags["#"+m[1]] = struct{}{}
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}

	hashtags := make([]string, 0, len(tags))
	for tag := range tags {
		hashtags = append(hashtags, tag)
	}
	sort.Strings(hashtags)

	title := extractTitle(heading, markdown)
	return &Result{
		Title:     title,
		Hashtags:  hashtags,
		Templates: templates,
		WordCount: words,
	}, nil
}

// inlineText concatenates the text nodes under n.
func inlineText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering && c.Kind() == ast.KindText {
			t := c.(*ast.Text)
			b.Write(t.Segment.Value(source))
			if t.SoftLineBreak() {
				b.WriteByte(' ')
			}
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

// blockTemplate returns the challenge template a paragraph defines, if any.
// It works on the raw source lines: goldmark would otherwise parse the
// [hint](answer) part of a cloze as a link.
func blockTemplate(n ast.Node, source []byte) challenge.Template {
	lines := n.Lines()
	if lines.Len() == 0 {
		return nil
	}
	var b strings.Builder
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(source))
	}
	raw := strings.TrimSpace(b.String())

	if challenge.HasCloze(raw) {
		return &challenge.ClozeTemplate{Source: raw}
	}
	if qa, ok := challenge.ParseQuestionAnswer(raw); ok {
		return qa
	}
	return nil
}

// removeFrontmatter removes YAML frontmatter from markdown.
func removeFrontmatter(markdown string) string {
	lines := strings.Split(markdown, "\n")
	if len(lines) < 2 {
		return markdown
	}

	// Check for YAML frontmatter
	if strings.TrimSpace(lines[0]) != "---" {
		return markdown
	}

	// Find end of frontmatter
	for i, line := range lines[1:] {
		if strings.TrimSpace(line) == "---" {
			return strings.Join(lines[i+2:], "\n")
		}
	}

	return markdown
}

// extractTitle prefers the first heading, else the first non-empty line.
func extractTitle(heading, markdown string) string {
	if heading != "" {
		return Truncate(heading, maxHeadingTitle)
	}
	for _, line := range strings.Split(markdown, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return Truncate(line, maxLineTitle)
		}
	}
	return "Untitled"
}
