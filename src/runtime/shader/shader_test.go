package shader

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/WowVeryLogin/vkprism/src/runtime/driver/drivertest"
)

func writeShader(t *testing.T, dir, name string, words ...uint32) {
	t.Helper()
	code := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(code[4*i:], w)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".spv"), code, 0o644); err != nil {
		t.Fatalf("failed to write shader: %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeShader(t, dir, "raytrace.rmiss", spirvMagic, 0x00010500, 0, 1, 0)
	dev := drivertest.New()

	module, err := Load(dev, dir, "raytrace.rmiss")
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if module == 0 || dev.Live().ShaderModules != 1 {
		t.Errorf("expected one shader module")
	}
	dev.DestroyShaderModule(module)
}

func TestLoadRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	writeShader(t, dir, "wrong", 0xdeadbeef, 0)
	if err := os.WriteFile(filepath.Join(dir, "odd.spv"), []byte{3, 2, 35, 7, 0}, 0o644); err != nil {
		t.Fatalf("failed to write shader: %v", err)
	}
	dev := drivertest.New()

	if _, err := Load(dev, dir, "wrong"); !errors.Is(err, ErrInvalidSPIRV) {
		t.Errorf("expected ErrInvalidSPIRV for a bad magic; got %v", err)
	}
	if _, err := Load(dev, dir, "odd"); !errors.Is(err, ErrInvalidSPIRV) {
		t.Errorf("expected ErrInvalidSPIRV for an unaligned size; got %v", err)
	}
	if _, err := Load(dev, dir, "missing"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected a missing file error; got %v", err)
	}
	if dev.Live().ShaderModules != 0 {
		t.Errorf("expected no modules to be created")
	}
}

func TestPath(t *testing.T) {
	if got := Path("shaders", "perspective.rgen"); got != filepath.Join("shaders", "perspective.rgen.spv") {
		t.Errorf("unexpected path %q", got)
	}
}
