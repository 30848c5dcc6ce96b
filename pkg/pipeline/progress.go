package pipeline

// Progress checkpoints reported after each stage completes. Stage F
// interpolates between imagesStart and imagesEnd as pages finish.
const (
	progressValidated  = 5
	progressScreened   = 10
	progressDrafted    = 30
	progressCharacters = 40
	progressPrompts    = 55
	progressImagesEnd  = 95
	progressDone       = 100
)

// Step labels surfaced in job status responses.
const (
	stepValidate   = "validating request"
	stepScreen     = "checking content safety"
	stepDraft      = "writing the story"
	stepCharacters = "designing characters"
	stepPrompts    = "planning illustrations"
	stepImages     = "painting illustrations"
	stepReview     = "reviewing the story"
	stepPackage    = "assembling the book"
)

// imageProgress maps completed image count to overall progress. The cover
// counts as one image alongside the pages.
func imageProgress(done, total int) int {
	if total <= 0 {
		return progressImagesEnd
	}
	return progressPrompts + (progressImagesEnd-progressPrompts)*done/total
}
