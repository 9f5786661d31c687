package image

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"golang.org/x/image/tiff"
)

// Load reads an image file into a Raster titled after the file name.
// TIFF resolution tags become the raster's calibration.
func Load(path string) (*Raster, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open image")
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode image %s", path)
	}

	mat, err := FromImage(img)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to convert image %s", path)
	}

	r := NewRaster(filepath.Base(path), mat)

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".tiff" || ext == ".tif" {
		if cal, err := readTIFFCalibration(file); err == nil {
			r.Calibration = cal
		}
	}
	return r, nil
}

// Save writes the raster as PNG or TIFF, chosen by extension. Two-channel
// rasters are padded with an empty third channel.
func Save(path string, r *Raster) error {
	img, err := ToImage(r.Mat)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		err = png.Encode(f, img)
	case ".tif", ".tiff":
		err = tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return fmt.Errorf("unsupported output format %q", filepath.Ext(path))
	}
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", path)
	}
	return nil
}

// FromImage converts a decoded image to a Mat. Gray and Gray16 images stay
// single channel; everything else becomes 8-bit BGR.
func FromImage(img image.Image) (gocv.Mat, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch src := img.(type) {
	case *image.Gray:
		buf := make([]byte, w*h)
		for y := 0; y < h; y++ {
			copy(buf[y*w:(y+1)*w], src.Pix[y*src.Stride:y*src.Stride+w])
		}
		return matFromBytes(h, w, gocv.MatTypeCV8UC1, buf)

	case *image.Gray16:
		// image.Gray16 is big-endian; Mat samples are host order (little-endian).
		buf := make([]byte, w*h*2)
		for y := 0; y < h; y++ {
			row := src.Pix[y*src.Stride : y*src.Stride+w*2]
			for x := 0; x < w; x++ {
				buf[(y*w+x)*2] = row[x*2+1]
				buf[(y*w+x)*2+1] = row[x*2]
			}
		}
		return matFromBytes(h, w, gocv.MatTypeCV16UC1, buf)
	}

	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	m, err := matFromBytes(h, w, gocv.MatTypeCV8UC4, rgba.Pix)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer m.Close()

	bgr := gocv.NewMat()
	gocv.CvtColor(m, &bgr, gocv.ColorRGBAToBGR)
	return bgr, nil
}

// ToImage converts a Mat to an image.Image for encoding.
func ToImage(m gocv.Mat) (image.Image, error) {
	w, h := m.Cols(), m.Rows()

	switch m.Type() {
	case gocv.MatTypeCV8UC1:
		g := image.NewGray(image.Rect(0, 0, w, h))
		copy(g.Pix, m.ToBytes())
		return g, nil

	case gocv.MatTypeCV16UC1:
		g := image.NewGray16(image.Rect(0, 0, w, h))
		data := m.ToBytes()
		for i := 0; i+1 < len(data); i += 2 {
			g.Pix[i] = data[i+1]
			g.Pix[i+1] = data[i]
		}
		return g, nil

	case gocv.MatTypeCV8UC2:
		chans := gocv.Split(m)
		defer closeAll(chans)
		pad := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), h, w, gocv.MatTypeCV8UC1)
		defer pad.Close()
		merged := gocv.NewMat()
		defer merged.Close()
		gocv.Merge([]gocv.Mat{chans[0], chans[1], pad}, &merged)
		return ToImage(merged)

	case gocv.MatTypeCV8UC3, gocv.MatTypeCV8UC4:
		code := gocv.ColorBGRToRGBA
		if m.Type() == gocv.MatTypeCV8UC4 {
			code = gocv.ColorBGRAToRGBA
		}
		rgbaMat := gocv.NewMat()
		defer rgbaMat.Close()
		gocv.CvtColor(m, &rgbaMat, code)
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		copy(img.Pix, rgbaMat.ToBytes())
		return img, nil
	}
	return nil, fmt.Errorf("cannot export %d-channel image of type %v", m.Channels(), m.Type())
}

// readTIFFCalibration extracts pixel size from the TIFF resolution tags.
// A resolution unit of "none" falls back to the unit= key that ImageJ
// writes into the image description.
func readTIFFCalibration(file io.ReadSeeker) (Calibration, error) {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return Calibration{}, err
	}

	// Read TIFF header to determine byte order
	header := make([]byte, 8)
	if _, err := io.ReadFull(file, header); err != nil {
		return Calibration{}, err
	}

	var byteOrder binary.ByteOrder
	if header[0] == 'I' && header[1] == 'I' {
		byteOrder = binary.LittleEndian
	} else if header[0] == 'M' && header[1] == 'M' {
		byteOrder = binary.BigEndian
	} else {
		return Calibration{}, fmt.Errorf("not a valid TIFF file")
	}

	ifdOffset := byteOrder.Uint32(header[4:8])
	if _, err := file.Seek(int64(ifdOffset), io.SeekStart); err != nil {
		return Calibration{}, err
	}

	var numEntries uint16
	if err := binary.Read(file, byteOrder, &numEntries); err != nil {
		return Calibration{}, err
	}

	var xRes, yRes float64
	var resUnit uint16 = 2 // TIFF default is inches
	var description string

	for i := uint16(0); i < numEntries; i++ {
		entry := make([]byte, 12)
		if _, err := io.ReadFull(file, entry); err != nil {
			return Calibration{}, err
		}

		tag := byteOrder.Uint16(entry[0:2])
		fieldType := byteOrder.Uint16(entry[2:4])
		count := byteOrder.Uint32(entry[4:8])
		valueOffset := byteOrder.Uint32(entry[8:12])

		switch tag {
		case 270: // ImageDescription
			if fieldType == 2 {
				description = readTIFFASCII(file, entry[8:12], count, valueOffset)
			}
		case 282: // XResolution
			if fieldType == 5 {
				xRes = readTIFFRational(file, int64(valueOffset), byteOrder)
			}
		case 283: // YResolution
			if fieldType == 5 {
				yRes = readTIFFRational(file, int64(valueOffset), byteOrder)
			}
		case 296: // ResolutionUnit
			if fieldType == 3 {
				resUnit = byteOrder.Uint16(entry[8:10])
			}
		}
	}

	if xRes == 0 && yRes == 0 {
		return Calibration{}, fmt.Errorf("no resolution tags found")
	}
	if xRes == 0 {
		xRes = yRes
	}
	if yRes == 0 {
		yRes = xRes
	}

	cal := Calibration{PixelWidth: 1 / xRes, PixelHeight: 1 / yRes}
	switch resUnit {
	case 2:
		cal.Unit = "inch"
	case 3:
		cal.Unit = "cm"
	default:
		cal.Unit = descriptionUnit(description)
		if cal.Unit == "" {
			return Calibration{}, fmt.Errorf("resolution has no unit")
		}
	}
	return cal, nil
}

// readTIFFRational reads a RATIONAL value (two uint32s) from a TIFF file.
func readTIFFRational(file io.ReadSeeker, offset int64, byteOrder binary.ByteOrder) float64 {
	currentPos, _ := file.Seek(0, io.SeekCurrent)
	defer file.Seek(currentPos, io.SeekStart)

	file.Seek(offset, io.SeekStart)
	var num, denom uint32
	binary.Read(file, byteOrder, &num)
	binary.Read(file, byteOrder, &denom)

	if denom == 0 {
		return 0
	}
	return float64(num) / float64(denom)
}

func readTIFFASCII(file io.ReadSeeker, inline []byte, count, offset uint32) string {
	if count <= 4 {
		return strings.TrimRight(string(inline[:count]), "\x00")
	}
	currentPos, _ := file.Seek(0, io.SeekCurrent)
	defer file.Seek(currentPos, io.SeekStart)

	buf := make([]byte, count)
	if _, err := file.Seek(int64(offset), io.SeekStart); err != nil {
		return ""
	}
	if _, err := io.ReadFull(file, buf); err != nil {
		return ""
	}
	return strings.TrimRight(string(buf), "\x00")
}

// descriptionUnit finds "unit=<name>" in an ImageJ-style description.
func descriptionUnit(description string) string {
	for _, line := range strings.Split(description, "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "unit="); ok {
			v = strings.TrimSpace(v)
			if v == "micron" {
				v = "µm"
			}
			return v
		}
	}
	return ""
}

// SupportedFormats returns the list of readable image formats.
func SupportedFormats() []string {
	return []string{".tiff", ".tif", ".png", ".jpg", ".jpeg"}
}

// IsSupportedFormat checks if the given path has a supported image format.
func IsSupportedFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range SupportedFormats() {
		if ext == format {
			return true
		}
	}
	return false
}

func closeAll(mats []gocv.Mat) {
	for i := range mats {
		mats[i].Close()
	}
}
