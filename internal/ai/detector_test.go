package ai

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FortunoMaxime/tri-dechet-yolo/internal/logger"
)

func newTestDetector(t *testing.T, fake *fakeInferenceService) *RemoteDetector {
	t.Helper()
	d, err := NewRemoteDetector(setupTestClient(t, fake), RemoteDetectorConfig{
		ModelName:     "YOLOv8 Waste Classification",
		RetryInterval: 20 * time.Millisecond,
	}, logger.NewNopLogger())
	require.NoError(t, err)
	return d
}

func TestRemoteDetector_NotLoaded(t *testing.T) {
	d := newTestDetector(t, &fakeInferenceService{})

	assert.False(t, d.Ready())
	_, err := d.Info()
	assert.ErrorIs(t, err, ErrModelUnavailable)

	_, err = d.Infer(context.Background(), image.NewRGBA(image.Rect(0, 0, 8, 8)), 0.5)
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestRemoteDetector_Infer(t *testing.T) {
	fake := &fakeInferenceService{boxes: []BoundingBox{
		{X1: 0, Y1: 0, X2: 320, Y2: 240, Confidence: 0.9, ClassID: 1},
		{X1: 10, Y1: 10, X2: 20, Y2: 20, Confidence: 0.3, ClassID: 2, ClassName: "verre"},
	}}
	d := newTestDetector(t, fake)
	require.NoError(t, d.Load(context.Background()))

	info, err := d.Info()
	require.NoError(t, err)
	assert.Equal(t, "YOLOv8 Waste Classification", info.ModelName)
	assert.Len(t, info.Classes, 3)

	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	detections, err := d.Infer(context.Background(), img, 0.5)
	require.NoError(t, err)
	require.Len(t, detections, 1, "boxes below the threshold are dropped")

	det := detections[0]
	assert.Equal(t, "papier", det.Class, "class name falls back to the model table")
	assert.Equal(t, 1, det.ClassID)
	assert.Equal(t, []float64{0, 0, 320, 240}, det.BBoxPixels)
	assert.InDeltaSlice(t, []float64{0.25, 0.25, 0.5, 0.5}, det.BBox, 1e-9)
}

func TestRemoteDetector_InferIsDeterministic(t *testing.T) {
	fake := &fakeInferenceService{boxes: []BoundingBox{
		{X1: 5, Y1: 5, X2: 50, Y2: 60, Confidence: 0.7, ClassID: 0, ClassName: "plastique"},
	}}
	d := newTestDetector(t, fake)
	require.NoError(t, d.Load(context.Background()))

	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	first, err := d.Infer(context.Background(), img, 0.5)
	require.NoError(t, err)
	second, err := d.Infer(context.Background(), img, 0.5)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRemoteDetector_InvalidConfidence(t *testing.T) {
	d := newTestDetector(t, &fakeInferenceService{})
	require.NoError(t, d.Load(context.Background()))

	_, err := d.Infer(context.Background(), image.NewRGBA(image.Rect(0, 0, 8, 8)), 1.5)
	assert.ErrorIs(t, err, ErrInvalidConfidence)
}

func TestRemoteDetector_StartRetriesUntilLoaded(t *testing.T) {
	fake := &fakeInferenceService{}
	fake.modelDown.Store(true)
	d := newTestDetector(t, fake)

	require.NoError(t, d.Start(context.Background()))
	defer d.Stop(context.Background())
	assert.False(t, d.Ready())

	fake.modelDown.Store(false)
	assert.Eventually(t, d.Ready, 2*time.Second, 10*time.Millisecond)
}

func TestRemoteDetector_StopWithoutStart(t *testing.T) {
	d := newTestDetector(t, &fakeInferenceService{})
	assert.NoError(t, d.Stop(context.Background()))
	assert.Equal(t, "detector", d.Name())
}
