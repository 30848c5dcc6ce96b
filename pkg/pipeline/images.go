package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/storyloom/storyloom/pkg/imagegen"
	"github.com/storyloom/storyloom/pkg/models"
)

// imageURLs holds the uploaded illustration URLs for one job.
type imageURLs struct {
	cover string
	pages map[int]string // page number -> URL
}

// generateImages runs Stage F: every illustration (cover plus one per
// page) generated concurrently under the process-wide semaphore, each
// with its own attempt budget. One exhausted image fails the whole job.
func (o *Orchestrator) generateImages(ctx context.Context, job *models.Job, prompts models.ImagePrompts) (imageURLs, error) {
	total := len(prompts.Pages) + 1
	urls := imageURLs{pages: make(map[int]string, len(prompts.Pages))}

	var mu sync.Mutex
	done := 0

	policy := o.cappedImagePolicy()
	g, gctx := errgroup.WithContext(ctx)

	run := func(prompt models.ImagePrompt) {
		g.Go(func() error {
			if err := o.imageSem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer o.imageSem.Release(1)

			url, err := o.generateOneImage(gctx, job, prompt, policy)
			if err != nil {
				return err
			}

			mu.Lock()
			if prompt.Page == 0 {
				urls.cover = url
			} else {
				urls.pages[prompt.Page] = url
			}
			done++
			progress := imageProgress(done, total)
			mu.Unlock()

			o.progress(gctx, job, progress, stepImages)
			return nil
		})
	}

	run(prompts.Cover)
	for _, p := range prompts.Pages {
		run(p)
	}

	if err := g.Wait(); err != nil {
		return imageURLs{}, err
	}
	return urls, nil
}

func (o *Orchestrator) generateOneImage(ctx context.Context, job *models.Job, prompt models.ImagePrompt, policy backoffPolicy) (string, error) {
	var img *imagegen.Image
	err := o.runStep(ctx, o.cfg.ImageTimeout, classifyImageError, policy, func(ctx context.Context) error {
		i, err := o.images.Generate(ctx, prompt)
		if err != nil {
			return err
		}
		img = i
		return nil
	})
	if err != nil {
		return "", err
	}

	// The generated image is kept across upload retries; a storage blip
	// must not burn provider quota regenerating it.
	var url string
	err = o.runStep(ctx, o.cfg.PackageTimeout, classifyStorageError, storagePolicy, func(ctx context.Context) error {
		u, err := o.storage.Upload(ctx, imageKey(job.ID, prompt.Page), img.Data, img.ContentType)
		if err != nil {
			return err
		}
		url = u
		return nil
	})
	if err != nil {
		return "", err
	}
	return url, nil
}

// cappedImagePolicy truncates the retry schedules to the configured
// attempt budget.
func (o *Orchestrator) cappedImagePolicy() backoffPolicy {
	maxRetries := o.cfg.ImageMaxAttempts - 1
	if maxRetries < 0 {
		maxRetries = 0
	}
	return func(perr *Error) []time.Duration {
		schedule := imagePolicy(perr)
		if len(schedule) > maxRetries {
			schedule = schedule[:maxRetries]
		}
		return schedule
	}
}

func imageKey(jobID string, page int) string {
	if page == 0 {
		return fmt.Sprintf("books/%s/cover.png", jobID)
	}
	return fmt.Sprintf("books/%s/page_%02d.png", jobID, page)
}
