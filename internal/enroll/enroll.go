package enroll

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/schollz/progressbar/v3"

	"github.com/kozaktomas/facewatch/internal/constants"
	"github.com/kozaktomas/facewatch/internal/database"
	"github.com/kozaktomas/facewatch/internal/embedding"
	"github.com/kozaktomas/facewatch/internal/facematch"
	"github.com/kozaktomas/facewatch/internal/imageutil"
)

// FaceDetector detects faces in an image.
type FaceDetector interface {
	DetectFaces(ctx context.Context, imageData []byte) ([]embedding.Face, error)
}

// Stats summarises an enrollment run.
type Stats struct {
	People        int           `json:"people"`
	Enrolled      int           `json:"enrolled"`
	SkippedPeople []string      `json:"skipped_people,omitempty"`
	SkippedImages int           `json:"skipped_images"`
	ImagesUsed    int           `json:"images_used"`
	Duration      time.Duration `json:"duration_ns"`
}

// Enroller turns an identity source into gallery records.
type Enroller struct {
	Detector     FaceDetector
	Store        database.RecordWriter
	Gallery      *database.Gallery
	DataDir      string
	Log          logs.Log
	Concurrency  int       // people processed in parallel
	MaxImageSize int       // enrollment images are downsized to this
	Progress     io.Writer // progress bar output, nil for none
}

type personResult struct {
	record  database.IdentityRecord
	used    int
	skipped int
	ok      bool
}

// BuildRecords computes one averaged embedding per person. People without a
// single usable image are skipped. Record order follows the source.
func (e *Enroller) BuildRecords(ctx context.Context, src *Source) ([]database.IdentityRecord, Stats, error) {
	start := time.Now()
	concurrency := e.Concurrency
	if concurrency <= 0 {
		concurrency = constants.EnrollConcurrency
	}

	bar := e.newProgressBar(len(src.Details))
	results := make([]personResult, len(src.Details))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i := range src.Details {
		wg.Add(1)
		go func(idx int, p Person) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if ctx.Err() == nil {
				results[idx] = e.enrollPerson(ctx, src.ImageDir, p)
			}
			if bar != nil {
				bar.Add(1) //nolint:errcheck
			}
		}(i, src.Details[i])
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, Stats{}, err
	}

	stats := Stats{People: len(src.Details)}
	records := make([]database.IdentityRecord, 0, len(results))
	for i, r := range results {
		stats.ImagesUsed += r.used
		stats.SkippedImages += r.skipped
		if !r.ok {
			stats.SkippedPeople = append(stats.SkippedPeople, src.Details[i].Name)
			continue
		}
		records = append(records, r.record)
	}
	stats.Enrolled = len(records)
	stats.Duration = time.Since(start)
	return records, stats, nil
}

// enrollPerson averages the embedding of the first face of each image.
func (e *Enroller) enrollPerson(ctx context.Context, imageDir string, p Person) personResult {
	var embeddings [][]float32
	res := personResult{}

	for _, name := range p.Images {
		data, err := os.ReadFile(filepath.Join(imageDir, name)) //nolint:gosec // paths come from the identity source
		if err == nil {
			data, err = imageutil.NormalizeForEmbedding(data, e.MaxImageSize)
		}
		if err != nil {
			e.Log.Warnf("Error processing %s: %v", name, err)
			res.skipped++
			continue
		}

		faces, err := e.Detector.DetectFaces(ctx, data)
		if err != nil {
			e.Log.Warnf("Error processing %s: %v", name, err)
			res.skipped++
			continue
		}
		if len(faces) == 0 {
			e.Log.Warnf("%s contains no detectable faces!", name)
			res.skipped++
			continue
		}
		embeddings = append(embeddings, faces[0].Embedding)
		res.used++
	}

	if len(embeddings) == 0 {
		e.Log.Warnf("Skipping %s: no usable images", p.Name)
		return res
	}
	res.record = database.IdentityRecord{
		Name:      p.Name,
		Embedding: facematch.AverageEmbeddings(embeddings),
		CreatedAt: time.Now(),
	}
	res.ok = true
	return res
}

// Enroll builds records from src, replaces the stored records and reloads
// the gallery.
func (e *Enroller) Enroll(ctx context.Context, src *Source) (Stats, error) {
	e.Log.Infof("Extracting embeddings from images...")
	records, stats, err := e.BuildRecords(ctx, src)
	if err != nil {
		return stats, err
	}

	if e.Store != nil {
		if err := e.Store.ReplaceAll(ctx, records); err != nil {
			return stats, fmt.Errorf("saving identities: %w", err)
		}
	}
	if e.Gallery != nil {
		if err := e.Gallery.Reload(records); err != nil {
			return stats, fmt.Errorf("loading identities into gallery: %w", err)
		}
	}

	e.Log.Infof("Enrolled %d of %d people (%d images skipped) in %s",
		stats.Enrolled, stats.People, stats.SkippedImages, stats.Duration.Round(time.Millisecond))
	return stats, nil
}

// EnrollFile resolves dataFile inside the data directory and enrolls it.
func (e *Enroller) EnrollFile(ctx context.Context, dataFile string) (Stats, error) {
	path, err := ResolveSource(e.DataDir, dataFile)
	if err != nil {
		return Stats{}, err
	}
	src, err := ReadSource(e.DataDir, path)
	if err != nil {
		return Stats{}, err
	}
	return e.Enroll(ctx, src)
}

func (e *Enroller) newProgressBar(count int) *progressbar.ProgressBar {
	if e.Progress == nil {
		return nil
	}
	return progressbar.NewOptions(count,
		progressbar.OptionSetWriter(e.Progress),
		progressbar.OptionSetDescription("Enrolling identities"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("people"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)
}
