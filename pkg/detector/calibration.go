package detector

import (
	"fmt"
	"os"

	"gocv.io/x/gocv"
	"gopkg.in/yaml.v3"
)

// calibrationFile mirrors the camera.yaml document written by the
// original's calibrate.py: a 3x3 camera_matrix and a flat dist_coeffs
// list, both stored as plain nested YAML lists.
type calibrationFile struct {
	CameraMatrix [][]float64 `yaml:"camera_matrix"`
	DistCoeffs   []float64   `yaml:"dist_coeffs"`
}

// LoadCalibration reads a camera.yaml intrinsics file and builds the K and
// distortion gocv.Mat pair Process undistorts with. Callers own the
// returned Mats and must Close them.
func LoadCalibration(path string) (gocv.Mat, gocv.Mat, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return gocv.Mat{}, gocv.Mat{}, fmt.Errorf("detector: read calibration %s: %w", path, err)
	}

	var doc calibrationFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return gocv.Mat{}, gocv.Mat{}, fmt.Errorf("detector: parse calibration %s: %w", path, err)
	}
	if len(doc.CameraMatrix) != 3 {
		return gocv.Mat{}, gocv.Mat{}, fmt.Errorf("detector: calibration %s: camera_matrix must be 3x3", path)
	}

	k := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	for row := 0; row < 3; row++ {
		if len(doc.CameraMatrix[row]) != 3 {
			k.Close()
			return gocv.Mat{}, gocv.Mat{}, fmt.Errorf("detector: calibration %s: camera_matrix row %d must have 3 entries", path, row)
		}
		for col := 0; col < 3; col++ {
			k.SetDoubleAt(row, col, doc.CameraMatrix[row][col])
		}
	}

	dist := gocv.NewMatWithSize(1, len(doc.DistCoeffs), gocv.MatTypeCV64F)
	for i, v := range doc.DistCoeffs {
		dist.SetDoubleAt(0, i, v)
	}

	return k, dist, nil
}
