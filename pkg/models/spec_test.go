package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookSpec_Normalize(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		spec := BookSpec{Topic: "  a brave snail  "}
		spec.Normalize()

		assert.Equal(t, "a brave snail", spec.Topic)
		assert.Equal(t, LanguageKorean, spec.Language)
		assert.Equal(t, DefaultPageCount, spec.PageCount)
	})

	t.Run("folds singular character id into the list", func(t *testing.T) {
		spec := BookSpec{Topic: "x", CharacterID: "char_1"}
		spec.Normalize()

		assert.Equal(t, []string{"char_1"}, spec.CharacterIDs)
		assert.Equal(t, "char_1", spec.CharacterID)
	})

	t.Run("list wins over singular", func(t *testing.T) {
		spec := BookSpec{Topic: "x", CharacterID: "char_old", CharacterIDs: []string{"char_a", "char_b"}}
		spec.Normalize()

		assert.Equal(t, []string{"char_a", "char_b"}, spec.CharacterIDs)
		assert.Equal(t, "char_a", spec.CharacterID)
	})

	t.Run("trims forbidden elements", func(t *testing.T) {
		spec := BookSpec{Topic: "x", ForbiddenElements: []string{" spiders ", "dark caves"}}
		spec.Normalize()

		assert.Equal(t, []string{"spiders", "dark caves"}, spec.ForbiddenElements)
	})
}

func TestBookSpec_Validate(t *testing.T) {
	valid := func() BookSpec {
		return BookSpec{
			Topic:     "a friendly dragon",
			Language:  LanguageEnglish,
			TargetAge: Age5to7,
			Style:     StyleWatercolor,
			PageCount: 8,
		}
	}

	t.Run("accepts a well-formed spec", func(t *testing.T) {
		spec := valid()
		require.NoError(t, spec.Validate())
	})

	t.Run("accepts every optional theme", func(t *testing.T) {
		for _, theme := range []Theme{"", ThemeAdventure, ThemeFriendship, ThemeEmotionCoaching, ThemeFamily, ThemeNature, ThemeLearning} {
			spec := valid()
			spec.Theme = theme
			assert.NoError(t, spec.Validate(), "theme %q", theme)
		}
	})

	t.Run("topic limit counts characters, not bytes", func(t *testing.T) {
		// 200 Hangul characters are 600 bytes; still a valid topic.
		spec := valid()
		spec.Topic = strings.Repeat("달", 200)
		assert.NoError(t, spec.Validate())

		spec.Topic = strings.Repeat("달", 201)
		assert.Error(t, spec.Validate())
	})

	tests := []struct {
		name    string
		mutate  func(*BookSpec)
		wantErr string
	}{
		{"empty topic", func(s *BookSpec) { s.Topic = "" }, "topic"},
		{"overlong topic", func(s *BookSpec) { s.Topic = strings.Repeat("x", 201) }, "topic"},
		{"bad language", func(s *BookSpec) { s.Language = "fr" }, "language"},
		{"bad target age", func(s *BookSpec) { s.TargetAge = "13-15" }, "target_age"},
		{"bad style", func(s *BookSpec) { s.Style = "charcoal" }, "style"},
		{"bad theme", func(s *BookSpec) { s.Theme = "horror" }, "theme"},
		{"page count too low", func(s *BookSpec) { s.PageCount = 5 }, "page_count"},
		{"page count too high", func(s *BookSpec) { s.PageCount = 13 }, "page_count"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := valid()
			tt.mutate(&spec)

			err := spec.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			var validationErr *ValidationError
			assert.ErrorAs(t, err, &validationErr)
		})
	}
}

func TestLengthRuleFor(t *testing.T) {
	assert.Equal(t, LengthRule{MaxSentences: 2, MaxWords: 25}, LengthRuleFor(Age3to5))
	assert.Equal(t, LengthRule{MaxSentences: 3, MaxWords: 40}, LengthRuleFor(Age5to7))
	assert.Equal(t, LengthRule{MaxSentences: 4, MaxWords: 60}, LengthRuleFor(Age7to9))
	assert.Equal(t, LengthRule{MaxSentences: 6, MaxWords: 0}, LengthRuleFor(AgeAdult))
}

func TestStyleToken(t *testing.T) {
	for _, style := range []Style{StyleWatercolor, StyleCartoon, Style3D, StylePixel, StyleOilPainting, StyleClaymation, StyleRealistic} {
		assert.NotEmpty(t, style.StyleToken(), "style %q", style)
	}
	assert.Empty(t, Style("charcoal").StyleToken())
}

func TestNewPrefixedIDs(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	tests := []struct {
		id     string
		prefix string
	}{
		{NewJobID(at), "job_20260314_092653_"},
		{NewBookID(at), "book_20260314_092653_"},
		{NewCharacterID(at), "char_20260314_092653_"},
		{NewRegenJobID(at), "regen_20260314_092653_"},
	}
	for _, tt := range tests {
		assert.True(t, strings.HasPrefix(tt.id, tt.prefix), "id %q", tt.id)
		assert.Len(t, tt.id, len(tt.prefix)+8)
		assert.LessOrEqual(t, len(tt.id), 60)
	}

	// The random suffix keeps same-second IDs distinct.
	assert.NotEqual(t, NewJobID(at), NewJobID(at))
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.False(t, JobStatusQueued.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
	assert.True(t, JobStatusDone.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
}
