package camera

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	near = 1e-2
	far  = 1000.0

	// ShaderDataSize is the size of the raygen push constant block: two
	// column-major float32 4x4 matrices.
	ShaderDataSize = 2 * 16 * 4

	ShaderName = "perspective.rgen"
)

var ErrInvalidCamera = errors.New("camera: invalid parameters")

// ScreenWindow bounds the image plane in screen space.
type ScreenWindow struct {
	MinX, MinY, MaxX, MaxY float64
}

// DefaultScreenWindow spans [-1,1] on the shorter image axis.
func DefaultScreenWindow(width, height int) ScreenWindow {
	aspect := float64(width) / float64(height)
	if aspect > 1 {
		return ScreenWindow{MinX: -aspect, MinY: -1, MaxX: aspect, MaxY: 1}
	}
	return ScreenWindow{MinX: -1, MinY: -1 / aspect, MaxX: 1, MaxY: 1 / aspect}
}

type Params struct {
	// CameraToWorld is a row-major 4x4 matrix; nil means identity.
	CameraToWorld *mat.Dense
	// FOV is the field of view in degrees along the shorter axis.
	FOV    float64
	Screen ScreenWindow
}

type Perspective struct {
	fov            float64
	screen         ScreenWindow
	cameraToWorld  *mat.Dense
	rasterToCamera *mat.Dense
}

func NewPerspective(p Params, width, height int) (*Perspective, error) {
	if p.FOV <= 0 || p.FOV >= 180 {
		return nil, fmt.Errorf("%w: fov %v", ErrInvalidCamera, p.FOV)
	}
	if p.Screen.MaxX <= p.Screen.MinX || p.Screen.MaxY <= p.Screen.MinY {
		return nil, fmt.Errorf("%w: empty screen window", ErrInvalidCamera)
	}

	c := &Perspective{
		fov:           p.FOV,
		screen:        p.Screen,
		cameraToWorld: identity(),
	}
	if p.CameraToWorld != nil {
		if r, cols := p.CameraToWorld.Dims(); r != 4 || cols != 4 {
			return nil, fmt.Errorf("%w: camera to world is %dx%d", ErrInvalidCamera, r, cols)
		}
		c.cameraToWorld = mat.DenseCopyOf(p.CameraToWorld)
	}
	if err := c.Update(width, height); err != nil {
		return nil, err
	}
	return c, nil
}

func identity() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

func cameraToScreen(fov float64) *mat.Dense {
	invTan := 1.0 / math.Tan(fov*0.5*math.Pi/180.0)
	return mat.NewDense(4, 4, []float64{
		invTan, 0, 0, 0,
		0, invTan, 0, 0,
		0, 0, far / (far - near), -far * near / (far - near),
		0, 0, 1, 0,
	})
}

func screenToRaster(s ScreenWindow, width, height int) *mat.Dense {
	sx := float64(width) / (s.MaxX - s.MinX)
	sy := float64(height) / (s.MinY - s.MaxY)
	return mat.NewDense(4, 4, []float64{
		sx, 0, 0, -s.MinX * sx,
		0, sy, 0, -s.MaxY * sy,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

// Update recomputes the raster mapping for a new image size.
func (c *Perspective) Update(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: resolution %dx%d", ErrInvalidCamera, width, height)
	}

	var screenToCamera, rasterToScreen mat.Dense
	if err := screenToCamera.Inverse(cameraToScreen(c.fov)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCamera, err)
	}
	if err := rasterToScreen.Inverse(screenToRaster(c.screen, width, height)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCamera, err)
	}

	var rasterToCamera mat.Dense
	rasterToCamera.Mul(&screenToCamera, &rasterToScreen)
	c.rasterToCamera = &rasterToCamera
	return nil
}

func (c *Perspective) Move(x, y, z float64) {
	var moved mat.Dense
	moved.Mul(mat.NewDense(4, 4, []float64{
		1, 0, 0, x,
		0, 1, 0, y,
		0, 0, 1, z,
		0, 0, 0, 1,
	}), c.cameraToWorld)
	c.cameraToWorld = &moved
}

func (c *Perspective) RasterToCamera() mat.Matrix {
	return c.rasterToCamera
}

func (c *Perspective) CameraToWorld() mat.Matrix {
	return c.cameraToWorld
}

// ShaderData packs rasterToCamera then cameraToWorld as column-major
// float32 matrices.
func (c *Perspective) ShaderData() []byte {
	data := make([]byte, 0, ShaderDataSize)
	for _, m := range []*mat.Dense{c.rasterToCamera, c.cameraToWorld} {
		for col := range 4 {
			for row := range 4 {
				data = binary.LittleEndian.AppendUint32(data, math.Float32bits(float32(m.At(row, col))))
			}
		}
	}
	return data
}
