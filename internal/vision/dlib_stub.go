//go:build !dlib

package vision

import (
	"context"
	"errors"
	"image"

	"github.com/heimdex/avatar-agent/internal/imaging"
)

// ErrNoDlib is returned when the binary was built without the dlib tag.
var ErrNoDlib = errors.New("built without dlib support (rebuild with -tags dlib)")

// DlibLocator is unavailable in this build.
type DlibLocator struct{}

func NewDlibLocator(string) (*DlibLocator, error) { return nil, ErrNoDlib }

func (*DlibLocator) Locate(context.Context, image.Image) ([]imaging.Box, error) {
	return nil, ErrNoDlib
}

func (*DlibLocator) Close() error { return nil }
