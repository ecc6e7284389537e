package app

import (
	"context"
	"encoding/binary"
	"errors"
	"image"
	_ "image/png"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/WowVeryLogin/vkprism/src/camera"
	"github.com/WowVeryLogin/vkprism/src/config"
	"github.com/WowVeryLogin/vkprism/src/runtime/driver"
	"github.com/WowVeryLogin/vkprism/src/runtime/driver/drivertest"
	"github.com/WowVeryLogin/vkprism/src/runtime/submit"
)

const triangle = `ply
format ascii 1.0
element vertex 3
property float x
property float y
property float z
element face 1
property list uchar int vertex_indices
end_header
0 0 1
1 0 1
0 1 1
3 0 1 2
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	mesh := filepath.Join(dir, "triangle.ply")
	if err := os.WriteFile(mesh, []byte(triangle), 0o644); err != nil {
		t.Fatalf("failed to write mesh: %v", err)
	}

	cfg := config.Default()
	code := make([]byte, 20)
	binary.LittleEndian.PutUint32(code, 0x07230203)
	for _, name := range []string{cfg.Shaders.Raygen, cfg.Shaders.Miss, cfg.Shaders.Hit} {
		if err := os.WriteFile(filepath.Join(dir, name+".spv"), code, 0o644); err != nil {
			t.Fatalf("failed to write shader: %v", err)
		}
	}

	cfg.Render.Width = 3
	cfg.Render.Height = 2
	cfg.Render.Output = filepath.Join(dir, "out", "render.png")
	cfg.Scene.Meshes = []string{mesh}
	cfg.Shaders.Dir = dir
	cfg.Timeouts.Fence = time.Second
	return cfg
}

func texel(values [4]float32) []byte {
	out := make([]byte, 0, texelSize)
	for _, v := range values {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out
}

func TestSession(t *testing.T) {
	dev := drivertest.New()
	cfg := testConfig(t)

	s, err := NewSession(context.Background(), cfg, dev, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}

	live := dev.Live()
	if live.Pipelines != 1 || live.PipelineLayouts != 1 || live.DescriptorPools != 1 || live.DescriptorSetLayouts != 2 {
		t.Errorf("unexpected live objects %+v", live)
	}
	if live.Structures != 2 {
		t.Errorf("expected one BLAS and one TLAS; got %d structures", live.Structures)
	}
	if live.ShaderModules != 0 {
		t.Errorf("expected shader modules to be released; got %d", live.ShaderModules)
	}

	sets := s.sets.Sets()
	if len(sets) != 2 {
		t.Fatalf("expected 2 descriptor sets; got %d", len(sets))
	}
	if w := dev.Writes[sets[0]]; len(w) != 1 || w[0].Type != driver.DescriptorTypeAccelerationStructure || w[0].AccelerationStructure != s.scene.TLAS().Handle {
		t.Errorf("unexpected scene set writes %+v", w)
	}
	if w := dev.Writes[sets[1]]; len(w) != 1 || w[0].Buffer != s.beauty.Handle() || w[0].Range != 3*2*texelSize {
		t.Errorf("unexpected output set writes %+v", w)
	}

	if err := dev.Poke(s.beauty.Handle(), texelSize, texel([4]float32{1, 0.5, 0, 1})); err != nil {
		t.Fatalf("failed to poke beauty buffer: %v", err)
	}
	img, err := s.Render(context.Background())
	if err != nil {
		t.Fatalf("unexpected render error %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, 3, 2) {
		t.Fatalf("unexpected bounds %v", img.Bounds())
	}
	if got := img.NRGBAAt(1, 0); got.R != 255 || got.G != 128 || got.B != 0 || got.A != 255 {
		t.Errorf("unexpected pixel %+v", got)
	}
	if got := img.NRGBAAt(0, 0); got.A != 0 {
		t.Errorf("expected untouched pixel to be empty; got %+v", got)
	}

	cmds := dev.Commands()
	if len(cmds) < 6 {
		t.Fatalf("expected at least 6 commands; got %d", len(cmds))
	}
	tail := cmds[len(cmds)-6:]
	wantKinds := []drivertest.CommandKind{
		drivertest.CmdBindPipeline,
		drivertest.CmdBindDescriptorSets,
		drivertest.CmdPushConstants,
		drivertest.CmdTraceRays,
		drivertest.CmdBarrier,
		drivertest.CmdCopyBuffer,
	}
	for i, kind := range wantKinds {
		if tail[i].Kind != kind {
			t.Errorf("command %d: expected kind %d; got %d", i, kind, tail[i].Kind)
		}
	}
	if len(tail[2].Data) != camera.ShaderDataSize {
		t.Errorf("expected %d bytes of push constants; got %d", camera.ShaderDataSize, len(tail[2].Data))
	}
	if tail[3].Width != 3 || tail[3].Height != 2 || tail[3].Depth != 1 {
		t.Errorf("unexpected dispatch %dx%dx%d", tail[3].Width, tail[3].Height, tail[3].Depth)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("unexpected close error %v", err)
	}
	if live := dev.Live(); live != (drivertest.Live{}) {
		t.Errorf("expected every object to be released; got %+v", live)
	}
	if len(dev.Faults) != 0 {
		t.Errorf("unexpected faults %v", dev.Faults)
	}
}

func TestRenderTimeout(t *testing.T) {
	dev := drivertest.New()
	s, err := NewSession(context.Background(), testConfig(t), dev, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}

	dev.NeverSignal = true
	_, err = s.Render(context.Background())

	var stageErr *submit.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageRender {
		t.Fatalf("expected a render stage error; got %v", err)
	}
	if !errors.Is(err, submit.ErrTimeout) {
		t.Errorf("expected ErrTimeout; got %v", err)
	}

	before := dev.Live()
	if err := s.Close(); !errors.Is(err, driver.ErrTimeout) {
		t.Fatalf("expected close to report the hung device; got %v", err)
	}
	if live := dev.Live(); live.Buffers != before.Buffers || live.Structures != before.Structures || live.Pipelines != 1 {
		t.Errorf("expected close to leave objects of the pending frame alone; got %+v, had %+v", live, before)
	}

	dev.NeverSignal = false
	if err := dev.WaitIdle(); err != nil {
		t.Fatalf("unexpected error on late completion %v", err)
	}
	if len(dev.Faults) != 0 {
		t.Fatalf("unexpected faults after late completion %v", dev.Faults)
	}
}

func TestSessionPlacesCamera(t *testing.T) {
	dev := drivertest.New()
	cfg := testConfig(t)
	cfg.Render.Camera = [3]float64{1, 2, -3}

	s, err := NewSession(context.Background(), cfg, dev, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	defer s.Close()

	cameraToWorld := s.camera.CameraToWorld()
	for i, want := range cfg.Render.Camera {
		if got := cameraToWorld.At(i, 3); got != want {
			t.Errorf("translation %d: expected %v; got %v", i, want, got)
		}
	}

	// The second matrix of the push block is camera-to-world, column-major.
	data := s.camera.ShaderData()
	for i, want := range []float32{1, 2, -3} {
		offset := 64 + 4*(12+i)
		if got := math.Float32frombits(binary.LittleEndian.Uint32(data[offset:])); got != want {
			t.Errorf("pushed translation %d: expected %v; got %v", i, want, got)
		}
	}
}

func TestTexelCountDoesNotWrap(t *testing.T) {
	if got := int64(texelCount(70000, 70000)); got != 4900000000 {
		t.Errorf("expected 4900000000 texels; got %d", got)
	}
}

func TestNewSessionMissingShader(t *testing.T) {
	dev := drivertest.New()
	cfg := testConfig(t)
	cfg.Shaders.Hit = "absent.rchit"

	if _, err := NewSession(context.Background(), cfg, dev, zap.NewNop()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected a missing file error; got %v", err)
	}
	if live := dev.Live(); live.Buffers != 0 || live.Structures != 0 || live.DescriptorPools != 0 || live.PipelineLayouts != 0 {
		t.Errorf("expected a failed session to release everything; got %+v", live)
	}
}

func TestLoadSceneEmpty(t *testing.T) {
	if _, err := loadScene(nil); !errors.Is(err, ErrEmptyScene) {
		t.Errorf("expected ErrEmptyScene; got %v", err)
	}
}

func TestQuantize(t *testing.T) {
	tests := []struct {
		in   float32
		want uint8
	}{
		{-1, 0},
		{0, 0},
		{0.5, 128},
		{1, 255},
		{7, 255},
		{float32(math.NaN()), 0},
	}
	for _, tt := range tests {
		if got := quantize(tt.in); got != tt.want {
			t.Errorf("quantize(%v): expected %d; got %d", tt.in, tt.want, got)
		}
	}
}

func TestWriteImage(t *testing.T) {
	img := toImage([][4]float32{{1, 0, 0, 1}, {0, 1, 0, 1}}, 2, 1)
	dir := t.TempDir()

	for _, format := range []string{"png", "tiff", "bmp"} {
		path := filepath.Join(dir, "nested", "frame."+format)
		if err := WriteImage(img, path, format); err != nil {
			t.Fatalf("%s: unexpected error %v", format, err)
		}

		f, err := os.Open(path)
		if err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		decoded, got, err := image.Decode(f)
		f.Close()
		if err != nil {
			t.Fatalf("%s: failed to decode: %v", format, err)
		}
		if got != format {
			t.Errorf("expected format %s; got %s", format, got)
		}
		if decoded.Bounds().Dx() != 2 || decoded.Bounds().Dy() != 1 {
			t.Errorf("%s: unexpected bounds %v", format, decoded.Bounds())
		}
		if r, g, _, _ := decoded.At(1, 0).RGBA(); r != 0 || g != 0xffff {
			t.Errorf("%s: unexpected pixel r=%d g=%d", format, r, g)
		}
	}

	if err := WriteImage(img, filepath.Join(dir, "frame.jpg"), "jpeg"); err == nil {
		t.Error("expected an error for an unsupported format")
	}
}
