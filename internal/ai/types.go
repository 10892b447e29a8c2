package ai

// InferenceRequest represents a request to the inference service
type InferenceRequest struct {
	Image               string   `json:"image"`                          // Base64-encoded JPEG image
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"` // Optional override
}

// BoundingBox represents a detected object's bounding box in pixels
type BoundingBox struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"` // 0.0 to 1.0
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
}

// InferenceResponse represents the response from the inference service
type InferenceResponse struct {
	BoundingBoxes   []BoundingBox `json:"bounding_boxes"`
	InferenceTimeMs float64       `json:"inference_time_ms"`
	FrameShape      []int         `json:"frame_shape"` // [height, width]
	DetectionCount  int           `json:"detection_count"`
}

// ModelResponse describes the model loaded by the inference service
type ModelResponse struct {
	ModelName string         `json:"model_name"`
	Classes   map[int]string `json:"classes"`
	InputSize int            `json:"input_size"`
}

// Detection is one detected object as returned to API clients
type Detection struct {
	Class      string    `json:"class"`
	ClassID    int       `json:"class_id"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"`        // normalized [xc, yc, w, h]
	BBoxPixels []float64 `json:"bbox_pixels"` // pixel [x1, y1, x2, y2]
}

// ModelInfo is the public description of the loaded model
type ModelInfo struct {
	ModelName string         `json:"model_name"`
	Classes   map[int]string `json:"classes"`
	InputSize int            `json:"input_size"`
}

// toDetection converts a pixel box into the API representation, deriving
// the normalized center form from the frame size.
func (b BoundingBox) toDetection(width, height int, classes map[int]string) Detection {
	name := b.ClassName
	if name == "" {
		name = classes[b.ClassID]
	}

	d := Detection{
		Class:      name,
		ClassID:    b.ClassID,
		Confidence: b.Confidence,
		BBox:       []float64{},
		BBoxPixels: []float64{b.X1, b.Y1, b.X2, b.Y2},
	}
	if width > 0 && height > 0 {
		w, h := float64(width), float64(height)
		d.BBox = []float64{
			(b.X1 + b.X2) / 2 / w,
			(b.Y1 + b.Y2) / 2 / h,
			(b.X2 - b.X1) / w,
			(b.Y2 - b.Y1) / h,
		}
	}
	return d
}
