package models

// JobStatus is the lifecycle state of a generation job.
type JobStatus string

// Job status constants.
const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

// Language is the output language of a book.
type Language string

// Supported languages.
const (
	LanguageKorean   Language = "ko"
	LanguageEnglish  Language = "en"
	LanguageJapanese Language = "ja"
)

// Valid reports whether the language is supported.
func (l Language) Valid() bool {
	switch l {
	case LanguageKorean, LanguageEnglish, LanguageJapanese:
		return true
	}
	return false
}

// TargetAge is the reader age band. It drives the per-page length rules
// applied to story output.
type TargetAge string

// Supported age bands.
const (
	Age3to5  TargetAge = "3-5"
	Age5to7  TargetAge = "5-7"
	Age7to9  TargetAge = "7-9"
	AgeAdult TargetAge = "adult"
)

// Valid reports whether the age band is supported.
func (a TargetAge) Valid() bool {
	switch a {
	case Age3to5, Age5to7, Age7to9, AgeAdult:
		return true
	}
	return false
}

// LengthRule bounds the text of a single page for an age band.
type LengthRule struct {
	MaxSentences int
	MaxWords     int // 0 means unbounded
}

// LengthRuleFor returns the per-page length rule for an age band.
func LengthRuleFor(age TargetAge) LengthRule {
	switch age {
	case Age3to5:
		return LengthRule{MaxSentences: 2, MaxWords: 25}
	case Age5to7:
		return LengthRule{MaxSentences: 3, MaxWords: 40}
	case Age7to9:
		return LengthRule{MaxSentences: 4, MaxWords: 60}
	default:
		return LengthRule{MaxSentences: 6, MaxWords: 0}
	}
}

// Style is the illustration style of a book.
type Style string

// Supported illustration styles.
const (
	StyleWatercolor  Style = "watercolor"
	StyleCartoon     Style = "cartoon"
	Style3D          Style = "3d"
	StylePixel       Style = "pixel"
	StyleOilPainting Style = "oil_painting"
	StyleClaymation  Style = "claymation"
	StyleRealistic   Style = "realistic"
)

// Valid reports whether the style is supported.
func (s Style) Valid() bool {
	_, ok := styleTokens[s]
	return ok
}

// styleTokens maps each style to the token embedded in every image prompt
// so the cover and pages render consistently.
var styleTokens = map[Style]string{
	StyleWatercolor:  "soft watercolor painting, gentle brush strokes, pastel colors, warm light",
	StyleCartoon:     "vibrant cartoon, bold outlines, bright colors, playful",
	Style3D:          "3D rendered, Pixar-like, cute proportions, soft lighting",
	StylePixel:       "pixel art, 16-bit retro, limited palette",
	StyleOilPainting: "oil painting illustration, rich texture, warm tones",
	StyleClaymation:  "claymation, stop-motion look, textured clay figures",
	StyleRealistic:   "realistic illustration, detailed, natural light",
}

// StyleToken returns the prompt token for a style.
func (s Style) StyleToken() string {
	return styleTokens[s]
}

// Theme is an optional story theme.
type Theme string

// Supported themes.
const (
	ThemeEmotionCoaching Theme = "emotion_coaching"
	ThemeAdventure       Theme = "adventure"
	ThemeFriendship      Theme = "friendship"
	ThemeFamily          Theme = "family"
	ThemeNature          Theme = "nature"
	ThemeLearning        Theme = "learning"
)

// Valid reports whether the theme is supported. The empty theme is valid
// (theme is optional).
func (t Theme) Valid() bool {
	switch t {
	case "", ThemeEmotionCoaching, ThemeAdventure, ThemeFriendship,
		ThemeFamily, ThemeNature, ThemeLearning:
		return true
	}
	return false
}

// RegenTarget selects what regenerate_page rebuilds.
type RegenTarget string

// Regeneration targets.
const (
	RegenText  RegenTarget = "text"
	RegenImage RegenTarget = "image"
	RegenBoth  RegenTarget = "both"
)

// Valid reports whether the target is supported.
func (t RegenTarget) Valid() bool {
	switch t {
	case RegenText, RegenImage, RegenBoth:
		return true
	}
	return false
}

// Page count bounds for a book specification.
const (
	MinPageCount     = 6
	MaxPageCount     = 12
	DefaultPageCount = 8
)

// ValidatePageCount rejects page counts outside [MinPageCount, MaxPageCount].
func ValidatePageCount(n int) error {
	if n < MinPageCount || n > MaxPageCount {
		return NewValidationError("page_count must be between %d and %d, got %d", MinPageCount, MaxPageCount, n)
	}
	return nil
}
