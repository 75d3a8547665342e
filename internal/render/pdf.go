package render

import (
	"fmt"
	"io"

	"github.com/jung-kurt/gofpdf"

	"github.com/Vexusssek/rysowanienakolokwium/internal/scene"
	"github.com/Vexusssek/rysowanienakolokwium/internal/viewport"
)

const (
	DefaultWidth     = 500
	DefaultHeight    = 500
	DefaultLineWidth = 1.0
)

type Options struct {
	Width     float64
	Height    float64
	LineWidth float64
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.LineWidth <= 0 {
		o.LineWidth = DefaultLineWidth
	}
	return o
}

// WritePDF paints the segments in order on a white page, shifted by the
// offset, with the offset printed in the top-left corner.
func WritePDF(w io.Writer, segments []scene.Segment, off viewport.Offset, opts Options) error {
	opts = opts.withDefaults()

	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		UnitStr: "pt",
		Size:    gofpdf.SizeType{Wd: opts.Width, Ht: opts.Height},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	pdf.SetFillColor(255, 255, 255)
	pdf.Rect(0, 0, opts.Width, opts.Height, "F")

	pdf.SetLineWidth(opts.LineWidth)
	pdf.SetLineCapStyle("round")
	for _, seg := range segments {
		pdf.SetDrawColor(int(seg.Color.R), int(seg.Color.G), int(seg.Color.B))
		pdf.Line(seg.X1+off.DX, seg.Y1+off.DY, seg.X2+off.DX, seg.Y2+off.DY)
	}

	pdf.SetFont("Helvetica", "", 12)
	pdf.SetTextColor(0, 0, 0)
	pdf.Text(10, 20, off.String())

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return nil
}
