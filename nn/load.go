package nn

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ErrMissingParam is returned when a weight directory lacks a parameter file.
var ErrMissingParam = errors.New("missing parameter file")

// ParamFile returns the .npy path holding the named parameter.
func ParamFile(dir, name string) string {
	return filepath.Join(dir, name+".npy")
}

// LoadNpy reads every parameter from "<dir>/<name>.npy" in the serialized
// layout and copies it into the live tensor.
func LoadNpy(dir string, params []Param) error {
	for _, p := range params {
		if err := loadParam(dir, p); err != nil {
			return err
		}
	}
	return nil
}

func loadParam(dir string, p Param) error {
	f, err := os.Open(ParamFile(dir, p.Name))
	if os.IsNotExist(err) {
		return errors.Wrap(ErrMissingParam, p.Name)
	}
	if err != nil {
		return errors.Wrapf(err, "open %s", p.Name)
	}
	defer f.Close()

	src := new(tensor.Dense)
	if err := src.ReadNpy(f); err != nil {
		return errors.Wrapf(err, "decode %s", p.Name)
	}
	if src.Dtype() != tensor.Float32 {
		return errors.Errorf("%s: expected float32, file holds %v", p.Name, src.Dtype())
	}

	if p.Transposed {
		if src, err = Transpose(src); err != nil {
			return errors.Wrap(err, p.Name)
		}
	}
	if !src.Shape().Eq(p.Value.Shape()) {
		return errors.Errorf("%s: file shape %v does not fit %v", p.Name, src.Shape(), p.Value.Shape())
	}
	copy(Values(p.Value), Values(src))
	return nil
}

// SaveNpy writes every parameter to "<dir>/<name>.npy" in the serialized
// layout, creating dir if needed.
func SaveNpy(dir string, params []Param) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}
	for _, p := range params {
		out := p.Value
		if p.Transposed {
			var err error
			if out, err = Transpose(out); err != nil {
				return errors.Wrap(err, p.Name)
			}
		}
		if err := writeParam(ParamFile(dir, p.Name), out); err != nil {
			return errors.Wrapf(err, "write %s", p.Name)
		}
	}
	return nil
}

func writeParam(path string, t *tensor.Dense) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := t.WriteNpy(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
