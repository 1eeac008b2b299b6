package persistence

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/berfenger/aggbatt2mqtt/internal/core/domain"
	"github.com/berfenger/aggbatt2mqtt/internal/core/port"

	"github.com/spf13/afero"
)

const (
	CHARGE_FILE         = "storedvalue_charge"
	LAST_BALANCING_FILE = "storedvalue_last_balancing"
)

// FilePersistence keeps each value in its own text file.
type FilePersistence struct {
	fs  afero.Fs
	dir string
}

var _ port.Persistence = (*FilePersistence)(nil)

func NewFilePersistence(fs afero.Fs, dir string) (*FilePersistence, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create persistence dir: %w", err)
	}
	return &FilePersistence{fs: fs, dir: dir}, nil
}

func (p *FilePersistence) LoadCharge() (float64, error) {
	raw, err := p.read(CHARGE_FILE)
	if err != nil {
		return 0, err
	}
	charge, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid stored charge %q: %w", raw, err)
	}
	return charge, nil
}

func (p *FilePersistence) SaveCharge(charge float64) error {
	return p.write(CHARGE_FILE, fmt.Sprintf("%.3f", charge))
}

func (p *FilePersistence) LoadLastBalancingDay() (int, error) {
	raw, err := p.read(LAST_BALANCING_FILE)
	if err != nil {
		return 0, err
	}
	day, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid stored last balancing day %q: %w", raw, err)
	}
	return day, nil
}

func (p *FilePersistence) SaveLastBalancingDay(day int) error {
	return p.write(LAST_BALANCING_FILE, strconv.Itoa(day))
}

func (p *FilePersistence) read(name string) (string, error) {
	data, err := afero.ReadFile(p.fs, filepath.Join(p.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return "", domain.ErrNotStored
	}
	if err != nil {
		return "", err
	}
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return "", domain.ErrNotStored
	}
	return raw, nil
}

// write replaces the file through a temp file so a crash never leaves it
// truncated.
func (p *FilePersistence) write(name, value string) error {
	path := filepath.Join(p.dir, name)
	tmp := path + ".tmp"
	if err := afero.WriteFile(p.fs, tmp, []byte(value), 0o644); err != nil {
		return err
	}
	return p.fs.Rename(tmp, path)
}
