package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/storyloom/storyloom/pkg/llm"
	"github.com/storyloom/storyloom/pkg/models"
)

// sentenceEnders are the terminators that close a sentence in the
// languages we generate. A run of terminators ("?!", "...") counts once.
var sentenceEnders = map[rune]bool{
	'.': true, '!': true, '?': true,
	'。': true, '！': true, '？': true,
}

func countSentences(text string) int {
	count := 0
	prevEnder := false
	for _, r := range strings.TrimSpace(text) {
		ender := sentenceEnders[r]
		if ender && !prevEnder {
			count++
		}
		prevEnder = ender
	}
	// Unterminated text is still one sentence.
	if count == 0 && strings.TrimSpace(text) != "" {
		count = 1
	}
	return count
}

func countWords(text string) int {
	return len(strings.Fields(text))
}

// violatesLengthRule reports whether page text breaks the age band's
// per-page limits. A zero MaxWords means unbounded.
func violatesLengthRule(text string, rule models.LengthRule) bool {
	if countSentences(text) > rule.MaxSentences {
		return true
	}
	return rule.MaxWords > 0 && countWords(text) > rule.MaxWords
}

func lengthViolations(draft *models.StoryDraft, rule models.LengthRule) []int {
	var pages []int
	for _, p := range draft.Pages {
		if violatesLengthRule(p.Text, rule) {
			pages = append(pages, p.Page)
		}
	}
	return pages
}

// enforceLengthRules checks every drafted page against the age band's
// sentence and word limits. The model is told the rule up front; pages it
// overshoots anyway get one rewrite pass, and a page still over the limit
// after that fails the job.
func (o *Orchestrator) enforceLengthRules(ctx context.Context, job *models.Job, draft *models.StoryDraft) (*models.StoryDraft, error) {
	rule := models.LengthRuleFor(job.Spec.TargetAge)
	violating := lengthViolations(draft, rule)
	if len(violating) == 0 {
		return draft, nil
	}

	reason := lengthReason(job.Spec.TargetAge, rule)
	for _, pageNum := range violating {
		idx := pageNum - 1
		if idx < 0 || idx >= len(draft.Pages) {
			continue
		}
		req := llm.RewriteRequest{Spec: job.Spec, Page: draft.Pages[idx], Reasons: []string{reason}}
		err := o.runStep(ctx, o.cfg.LLMTimeout, classifyLLMError, storyPolicy, func(ctx context.Context) error {
			text, err := o.llm.RewritePage(ctx, req)
			if err != nil {
				return err
			}
			if text == "" {
				return NewRetryable(models.ErrCodeLLMJSONInvalid, "rewrite returned empty text")
			}
			draft.Pages[idx].Text = text
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if still := lengthViolations(draft, rule); len(still) > 0 {
		return nil, NewError(models.ErrCodeSafetyOutput,
			"pages %v still exceed the %s length limits after rewrite", still, job.Spec.TargetAge)
	}
	return draft, nil
}

func lengthReason(age models.TargetAge, rule models.LengthRule) string {
	reason := fmt.Sprintf("page text is too long for the %s age band: use at most %d sentences", age, rule.MaxSentences)
	if rule.MaxWords > 0 {
		reason += fmt.Sprintf(" and %d words", rule.MaxWords)
	}
	return reason
}
