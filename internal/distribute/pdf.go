package distribute

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func init() {
	// The booth has no pdfcpu config dir; use built-in defaults.
	api.DisableConfigDir()
}

// ImageToPDF lays the image out on one A4 page next to the original
// (photo.jpg -> photo.pdf) and returns the PDF path.
func ImageToPDF(imgPath string) (string, error) {
	out := strings.TrimSuffix(imgPath, filepath.Ext(imgPath)) + ".pdf"
	_ = os.Remove(out)

	imp := pdfcpu.DefaultImportConfig()
	conf := model.NewDefaultConfiguration()
	if err := api.ImportImagesFile([]string{imgPath}, out, imp, conf); err != nil {
		return "", fmt.Errorf("pdfcpu import %s: %w", imgPath, err)
	}
	return out, nil
}
