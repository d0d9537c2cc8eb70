package challenge

import (
	"regexp"
	"strings"

	"github.com/kimhsiao/notearchive/internal/errors"
)

// Built-in template type tags.
const (
	ClozeType          = "cloze"
	QuestionAnswerType = "qa"
)

// =====================================================
// Cloze
// =====================================================

// clozePattern matches ?[hint](answer). The hint may be empty.
var clozePattern = regexp.MustCompile(`\?\[([^\]]*)\]\(([^)]+)\)`)

// HasCloze reports whether text contains cloze markup.
func HasCloze(text string) bool {
	return clozePattern.MatchString(text)
}

// ClozeTemplate is a passage with one or more ?[hint](answer) deletions.
// Each deletion is one challenge.
type ClozeTemplate struct {
	Source string
}

// Type implements Template.
func (c *ClozeTemplate) Type() string { return ClozeType }

// Encode implements Template.
func (c *ClozeTemplate) Encode() string { return c.Source }

// Challenges returns one challenge per deletion. The prompt hides that
// deletion (showing its hint) and reveals all the others.
func (c *ClozeTemplate) Challenges() []Challenge {
	matches := clozePattern.FindAllStringSubmatchIndex(c.Source, -1)
	challenges := make([]Challenge, 0, len(matches))
	for i := range matches {
		var prompt strings.Builder
		last := 0
		for j, m := range matches {
			prompt.WriteString(c.Source[last:m[0]])
			hint, answer := c.Source[m[2]:m[3]], c.Source[m[4]:m[5]]
			if i == j {
				if hint == "" {
					hint = "..."
				}
				prompt.WriteString("[" + hint + "]")
			} else {
				prompt.WriteString(answer)
			}
			last = m[1]
		}
		prompt.WriteString(c.Source[last:])
		challenges = append(challenges, Challenge{
			Prompt: prompt.String(),
			Answer: c.Source[matches[i][4]:matches[i][5]],
		})
	}
	return challenges
}

// DecodeCloze is the Decoder for ClozeType.
func DecodeCloze(payload string) (Template, error) {
	if !HasCloze(payload) {
		return nil, errors.New(errors.ErrInvalid, "cloze template has no deletions")
	}
	return &ClozeTemplate{Source: payload}, nil
}

// =====================================================
// Question / answer
// =====================================================

// QuestionAnswerTemplate is a single question with its answer.
type QuestionAnswerTemplate struct {
	Question string
	Answer   string
}

// Type implements Template.
func (q *QuestionAnswerTemplate) Type() string { return QuestionAnswerType }

// Encode implements Template.
func (q *QuestionAnswerTemplate) Encode() string {
	return "Q: " + q.Question + "\nA: " + q.Answer
}

// Challenges implements Template.
func (q *QuestionAnswerTemplate) Challenges() []Challenge {
	return []Challenge{{Prompt: q.Question, Answer: q.Answer}}
}

// ParseQuestionAnswer splits a "Q: ...\nA: ..." block. Lines after the A:
// line continue the answer.
func ParseQuestionAnswer(text string) (*QuestionAnswerTemplate, bool) {
	first, rest, ok := strings.Cut(strings.TrimSpace(text), "\n")
	if !ok {
		return nil, false
	}
	question, ok := strings.CutPrefix(strings.TrimSpace(first), "Q:")
	if !ok {
		return nil, false
	}
	answer, ok := strings.CutPrefix(strings.TrimLeft(rest, " \t"), "A:")
	if !ok {
		return nil, false
	}
	question, answer = strings.TrimSpace(question), strings.TrimSpace(answer)
	if question == "" || answer == "" {
		return nil, false
	}
	return &QuestionAnswerTemplate{Question: question, Answer: answer}, true
}

// DecodeQuestionAnswer is the Decoder for QuestionAnswerType.
func DecodeQuestionAnswer(payload string) (Template, error) {
	qa, ok := ParseQuestionAnswer(payload)
	if !ok {
		return nil, errors.Newf(errors.ErrInvalid, "malformed question/answer template %q", payload)
	}
	return qa, nil
}
