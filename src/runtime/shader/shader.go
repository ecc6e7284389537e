// Package shader loads compiled SPIR-V by name and creates shader modules.
package shader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/WowVeryLogin/vkprism/src/runtime/driver"
)

const (
	Extension  = ".spv"
	EntryPoint = "main"

	spirvMagic = 0x07230203
)

var ErrInvalidSPIRV = errors.New("shader: not a SPIR-V binary")

// Path returns where the shader called name lives inside dir.
func Path(dir, name string) string {
	return filepath.Join(dir, name+Extension)
}

// Load reads dir/name.spv and creates a module from it. The caller owns the
// module.
func Load(device driver.Device, dir, name string) (driver.ShaderModule, error) {
	code, err := readFile(Path(dir, name))
	if err != nil {
		return 0, err
	}
	if err := validate(code); err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}

	module, err := device.CreateShaderModule(code)
	if err != nil {
		return 0, fmt.Errorf("failed to create shader module %s: %w", name, err)
	}
	return module, nil
}

func validate(code []byte) error {
	if len(code) < 4 || len(code)%4 != 0 {
		return fmt.Errorf("%w: size %d", ErrInvalidSPIRV, len(code))
	}
	if magic := binary.LittleEndian.Uint32(code); magic != spirvMagic {
		return fmt.Errorf("%w: magic %#x", ErrInvalidSPIRV, magic)
	}
	return nil
}

func readFile(path string) ([]byte, error) {
	file, err := os.OpenFile(path, os.O_RDONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open shader file: %w", err)
	}

	defer file.Close()
	buf, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read shader file: %w", err)
	}

	return buf, nil
}
