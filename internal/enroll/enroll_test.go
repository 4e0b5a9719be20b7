package enroll

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/facewatch/internal/database"
	"github.com/kozaktomas/facewatch/internal/database/mock"
	"github.com/kozaktomas/facewatch/internal/embedding"
	"github.com/kozaktomas/facewatch/internal/imageutil"
)

// widthDetector returns the faces registered for the decoded image width.
type widthDetector struct {
	mu    sync.Mutex
	faces map[int][]embedding.Face
}

func (d *widthDetector) DetectFaces(_ context.Context, data []byte) ([]embedding.Face, error) {
	w, _, err := imageutil.Dimensions(data)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.faces[w], nil
}

func writePNG(t *testing.T, path string, size int) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, size, size))))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0600))
}

func writeSource(t *testing.T, dir, name string, src Source) {
	t.Helper()
	data, err := json.Marshal(src)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0600))
}

// fixture lays out data/people.json and data/imgs/*.png.
func fixture(t *testing.T) (string, *widthDetector) {
	t.Helper()
	dataDir := t.TempDir()
	imgDir := filepath.Join(dataDir, "imgs")
	require.NoError(t, os.MkdirAll(imgDir, 0755))

	writePNG(t, filepath.Join(imgDir, "alice1.png"), 10)
	writePNG(t, filepath.Join(imgDir, "alice2.png"), 12)
	writePNG(t, filepath.Join(imgDir, "bob.png"), 14)
	writePNG(t, filepath.Join(imgDir, "carol.png"), 16)
	require.NoError(t, os.WriteFile(filepath.Join(imgDir, "broken.png"), []byte("not a png"), 0600))

	writeSource(t, dataDir, "people.json", Source{
		ImgFolderPath: "imgs",
		Details: []Person{
			{Name: "Alice", Images: []string{"alice1.png", "alice2.png", "missing.png"}},
			{Name: "Bob", Images: []string{"bob.png", "broken.png"}},
			{Name: "Carol", Images: []string{"carol.png"}},
		},
	})

	det := &widthDetector{faces: map[int][]embedding.Face{
		10: {{Embedding: []float32{1, 0}}, {Embedding: []float32{9, 9}}}, // only the first face counts
		12: {{Embedding: []float32{0, 1}}},
		16: {{Embedding: []float32{0.5, 0.5}}},
		// 14 (bob.png): no faces
	}}
	return dataDir, det
}

func TestEnrollFile(t *testing.T) {
	dataDir, det := fixture(t)
	store := mock.NewMockRecordStore()
	gallery := database.NewGallery(func(int) (database.VectorIndex, error) { return database.NewFlatIndex(), nil })

	e := &Enroller{
		Detector: det,
		Store:    store,
		Gallery:  gallery,
		DataDir:  dataDir,
		Log:      logs.NewTestingLog(t),
		Progress: &bytes.Buffer{},
	}

	stats, err := e.EnrollFile(context.Background(), " people.json ")
	require.NoError(t, err)

	assert.Equal(t, 3, stats.People)
	assert.Equal(t, 2, stats.Enrolled)
	assert.Equal(t, []string{"Bob"}, stats.SkippedPeople)
	assert.Equal(t, 3, stats.ImagesUsed)
	assert.Equal(t, 3, stats.SkippedImages) // missing.png, bob.png, broken.png

	records := store.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "Alice", records[0].Name)
	assert.Equal(t, []float32{0.5, 0.5}, records[0].Embedding)
	assert.Equal(t, "Carol", records[1].Name)
	assert.Equal(t, 1, store.ReplaceCalls)

	assert.Equal(t, []string{"Alice", "Carol"}, gallery.Names())
}

func TestEnrollFile_SourceErrors(t *testing.T) {
	dataDir, det := fixture(t)
	e := &Enroller{Detector: det, DataDir: dataDir, Log: logs.NewTestingLog(t)}

	_, err := e.EnrollFile(context.Background(), "people.csv")
	assert.ErrorIs(t, err, ErrBadExtension)

	_, err = e.EnrollFile(context.Background(), "nobody.json")
	assert.ErrorIs(t, err, ErrSourceNotFound)

	_, err = e.EnrollFile(context.Background(), "../people.json")
	assert.ErrorIs(t, err, ErrSourceNotFound)
}

func TestEnroll_StoreFailureKeepsGallery(t *testing.T) {
	dataDir, det := fixture(t)
	store := mock.NewMockRecordStore()
	store.ReplaceError = errors.New("db down")
	gallery := database.NewGallery(func(int) (database.VectorIndex, error) { return database.NewFlatIndex(), nil })
	require.NoError(t, gallery.Reload([]database.IdentityRecord{{Name: "Old", Embedding: []float32{1, 0}}}))

	e := &Enroller{Detector: det, Store: store, Gallery: gallery, DataDir: dataDir, Log: logs.NewTestingLog(t)}
	_, err := e.EnrollFile(context.Background(), "people.json")
	require.Error(t, err)
	assert.Equal(t, []string{"Old"}, gallery.Names())
}

func TestBuildRecords_Cancelled(t *testing.T) {
	dataDir, det := fixture(t)
	src, err := ReadSource(dataDir, filepath.Join(dataDir, "people.json"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := &Enroller{Detector: det, DataDir: dataDir, Log: logs.NewTestingLog(t)}
	_, _, err = e.BuildRecords(ctx, src)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadSource(t *testing.T) {
	dataDir := t.TempDir()
	writeSource(t, dataDir, "a.json", Source{ImgFolderPath: "pics", Details: []Person{{Name: "X", Images: []string{"x.jpg"}}}})

	src, err := ReadSource(dataDir, filepath.Join(dataDir, "a.json"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dataDir, "pics"), src.ImageDir)
	require.Len(t, src.Details, 1)
	assert.Equal(t, "X", src.Details[0].Name)

	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "bad.json"), []byte("{"), 0600))
	_, err = ReadSource(dataDir, filepath.Join(dataDir, "bad.json"))
	assert.Error(t, err)
}
