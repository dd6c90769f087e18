package opencv

import (
	"fmt"
	"image"
	"path/filepath"
	"sync"

	"gocv.io/x/gocv"
)

const frontalFaceCascade = "haarcascade_frontalface_default.xml"

var cascadeSearchPaths = []string{
	frontalFaceCascade,
	"/usr/local/share/opencv4/haarcascades/" + frontalFaceCascade,
	"/usr/share/opencv4/haarcascades/" + frontalFaceCascade,
	"/opt/homebrew/share/opencv4/haarcascades/" + frontalFaceCascade,
}

// CascadeLocator finds faces with a Haar cascade.
type CascadeLocator struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
}

// NewCascadeLocator loads the frontal-face cascade from dir, then from the usual install locations.
func NewCascadeLocator(dir string) (*CascadeLocator, error) {
	classifier := gocv.NewCascadeClassifier()
	candidates := cascadeSearchPaths
	if dir != "" {
		candidates = append([]string{filepath.Join(dir, frontalFaceCascade)}, candidates...)
	}
	for _, path := range candidates {
		if classifier.Load(path) {
			return &CascadeLocator{classifier: classifier}, nil
		}
	}
	_ = classifier.Close()
	return nil, fmt.Errorf("opencv: failed to load face cascade from %s or standard paths", dir)
}

// Locate returns the first face found in img.
func (l *CascadeLocator) Locate(img image.Image) (image.Rectangle, bool, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return image.Rectangle{}, false, fmt.Errorf("opencv: image to mat: %w", err)
	}
	defer mat.Close()
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)

	l.mu.Lock()
	faces := l.classifier.DetectMultiScale(gray)
	l.mu.Unlock()
	if len(faces) == 0 {
		return image.Rectangle{}, false, nil
	}
	return faces[0], true, nil
}

// Close releases the classifier.
func (l *CascadeLocator) Close() error {
	return l.classifier.Close()
}
