package opencv

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"

	"proof-of-life-gate/internal/vision"
)

var errEmptyFrame = errors.New("opencv: empty frame")

// Segmenter thresholds a frame in HSV space and reports the largest external contour.
type Segmenter struct{}

// NewSegmenter returns a Segmenter.
func NewSegmenter() *Segmenter { return &Segmenter{} }

// Detect implements vision.Segmenter. The union of ranges forms the mask and a region
// counts only when its contour area is strictly greater than minArea.
func (s *Segmenter) Detect(frame vision.Frame, ranges []vision.HSVRange, minArea float64) (vision.Detection, error) {
	if frame.Image == nil {
		return vision.Detection{}, errEmptyFrame
	}
	bgr, err := gocv.ImageToMatRGB(frame.Image)
	if err != nil {
		return vision.Detection{}, fmt.Errorf("opencv: image to mat: %w", err)
	}
	defer bgr.Close()
	if bgr.Empty() {
		return vision.Detection{}, errEmptyFrame
	}

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(bgr, &hsv, gocv.ColorBGRToHSV)

	mask := gocv.NewMat()
	defer mask.Close()
	part := gocv.NewMat()
	defer part.Close()
	for i, r := range ranges {
		lower := gocv.NewScalar(r.Lower[0], r.Lower[1], r.Lower[2], 0)
		upper := gocv.NewScalar(r.Upper[0], r.Upper[1], r.Upper[2], 0)
		if i == 0 {
			gocv.InRangeWithScalar(hsv, lower, upper, &mask)
			continue
		}
		gocv.InRangeWithScalar(hsv, lower, upper, &part)
		gocv.BitwiseOr(mask, part, &mask)
	}
	if mask.Empty() {
		return vision.Detection{}, nil
	}

	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	best := vision.Detection{}
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		area := gocv.ContourArea(c)
		if area > minArea && area > best.Area {
			best = vision.Detection{Found: true, Area: area, Box: gocv.BoundingRect(c)}
		}
	}
	return best, nil
}
