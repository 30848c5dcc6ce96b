package llm

import (
	"fmt"
	"strings"

	"github.com/storyloom/storyloom/pkg/models"
)

func buildStoryPrompt(req StoryRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are a children's picture book author. Write a story as JSON.

Topic: %s
Language: %s (write ALL story text in this language)
Target age: %s
Theme: %s
Page count: exactly %d pages

Length rules per page: at most %d sentences%s.
Vocabulary: %s.
`,
		req.Spec.Topic, req.Spec.Language, req.Spec.TargetAge,
		req.Spec.Theme, req.Spec.PageCount,
		req.Rule.MaxSentences, wordLimitClause(req.Rule), req.Vocabulary)

	if len(req.Characters) > 0 {
		b.WriteString("\nThe story MUST feature these existing characters exactly as described:\n")
		for _, c := range req.Characters {
			fmt.Fprintf(&b, "- %s: %s\n", c.Name, c.MasterDescription)
		}
	}
	if len(req.Spec.ForbiddenElements) > 0 {
		fmt.Fprintf(&b, "\nNever include: %s.\n", strings.Join(req.Spec.ForbiddenElements, ", "))
	}

	b.WriteString(`
Respond with ONLY this JSON structure:
{
  "title": "...",
  "language": "...",
  "target_age": "...",
  "theme": "...",
  "moral": "...",
  "characters": [{"id": "...", "name": "...", "role": "protagonist", "brief": "..."}],
  "cover": {"scene": "...", "mood": "..."},
  "pages": [{"page": 1, "text": "...", "scene": "...", "mood": "..."}],
  "continuity": {"character_consistency_notes": "...", "style_notes_for_images": "..."}
}
The "pages" array must contain exactly the requested page count, numbered from 1.
"scene" fields are visual descriptions in English for an illustrator.`)
	return b.String()
}

func wordLimitClause(rule models.LengthRule) string {
	if rule.MaxWords == 0 {
		return ""
	}
	return fmt.Sprintf(" and %d words", rule.MaxWords)
}

func buildCharacterPrompt(req CharacterRequest) string {
	return fmt.Sprintf(`You are a character designer for children's picture books.
Create a stable visual identity sheet for this character so every
illustration renders them identically.

Character: %s (%s) — %s
Story title: %s
Art style: %s

Respond with ONLY this JSON structure:
{
  "character_id": %q,
  "name": %q,
  "master_description": "one dense sentence in English covering species, colors, size, face, signature features",
  "appearance": {"body": "...", "face": "...", "colors": "..."},
  "clothing": {"outfit": "...", "accessories": "..."},
  "personality_traits": ["...", "..."],
  "visual_style_notes": "..."
}
The master_description must be self-contained: it is pasted verbatim into
every image prompt.`,
		req.Role.Name, req.Role.Role, req.Role.Brief,
		req.Draft.Title, req.Spec.Style,
		req.Role.ID, req.Role.Name)
}

func buildPromptsPrompt(req PromptsRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are an art director writing image generation prompts for a
children's picture book. All prompts are in English.

Style token (start every positive prompt with it): %s
Story title: %s
Continuity notes: %s / %s
`,
		req.StyleToken, req.Draft.Title,
		req.Draft.Continuity.CharacterConsistency, req.Draft.Continuity.StyleNotes)

	b.WriteString("\nCharacter anchors (embed the matching master description verbatim in every prompt where the character appears):\n")
	for _, c := range req.Characters {
		fmt.Fprintf(&b, "- %s: %s\n", c.Name, c.MasterDescription)
	}

	fmt.Fprintf(&b, "\nCover scene: %s\nPages:\n", req.Draft.Cover.Scene)
	for _, p := range req.Draft.Pages {
		fmt.Fprintf(&b, "%d. %s (mood: %s)\n", p.Page, p.Scene, p.Mood)
	}

	fmt.Fprintf(&b, `
Respond with ONLY this JSON structure:
{
  "style": %q,
  "cover": {"page": 0, "positive_prompt": "...", "negative_prompt": "...", "seed": 12345, "aspect_ratio": "3:4"},
  "pages": [{"page": 1, "positive_prompt": "...", "negative_prompt": "...", "seed": 12345, "aspect_ratio": "4:3"}]
}
Use the SAME seed for every prompt. Every negative prompt must include at
least: %s. One entry per story page.`,
		string(req.Spec.Style), NegativePromptClause)
	return b.String()
}

func buildRewritePrompt(req RewriteRequest) string {
	return fmt.Sprintf(`Rewrite this picture book page so it is fully appropriate for young
children, keeping the plot beat and the language (%s) intact.

Original text: %s
Problems found: %s

Respond with ONLY the rewritten page text, no commentary.`,
		req.Spec.Language, req.Page.Text, strings.Join(req.Reasons, "; "))
}

func buildClassifyPrompt(text string) string {
	return fmt.Sprintf(`You are a content safety reviewer for a children's storybook service.
Judge whether the following content is appropriate for children aged 3-9.
Flag violence, fear, adult themes, discrimination, dangerous activities.

Content:
%s

Respond with ONLY this JSON structure:
{"is_safe": true, "reasons": [], "suggestions": []}
When unsafe, "reasons" lists the specific problems and "suggestions"
offers child-friendly alternatives.`, text)
}
