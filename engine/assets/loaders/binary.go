package loaders

import (
	"encoding/binary"
	"os"

	"github.com/pkg/errors"
)

const spirvMagic uint32 = 0x07230203

type BinaryLoader struct{}

func (bl *BinaryLoader) Load(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", path)
	}
	return data, nil
}

// ShaderLoader loads compiled SPIR-V modules.
type ShaderLoader struct {
	BinaryLoader
}

func (sl *ShaderLoader) Load(path string) ([]byte, error) {
	data, err := sl.BinaryLoader.Load(path)
	if err != nil {
		return nil, err
	}
	if err := ValidateSPIRV(data); err != nil {
		return nil, errors.Wrapf(err, "shader %s", path)
	}
	return data, nil
}

func ValidateSPIRV(code []byte) error {
	if len(code) < 20 || len(code)%4 != 0 {
		return errors.Errorf("SPIR-V module of %d bytes is malformed", len(code))
	}
	if binary.LittleEndian.Uint32(code) != spirvMagic {
		return errors.New("missing SPIR-V magic number")
	}
	return nil
}

// BytesToBytecode reinterprets a SPIR-V module as its 32-bit words.
func BytesToBytecode(b []byte) []uint32 {
	byteCode := make([]uint32, len(b)/4)
	for i := range byteCode {
		byteCode[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return byteCode
}
