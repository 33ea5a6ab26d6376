// Package annotate produces the annotated result image sent back to the
// student: the original photo with the score stamped on it.
package annotate

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/snapgrade/snapgrade/internal/model"
)

// Total is a running score over a fixed maximum.
type Total struct {
	Current int
	Max     int
}

// Input describes one rendering job.
type Input struct {
	// AnswerImage is the path of the student's photo.
	AnswerImage string
	// Annotations from the grader; informational for renderers that mark
	// up individual fragments.
	Annotations []model.Annotation
	// Score and MaxScore for this submission.
	Score    int
	MaxScore int
	// RunningTotal, when non-nil, adds the accumulated exam score.
	RunningTotal *Total
	// Answered and TotalQuestions describe exam progress; Answered holds
	// the question indices answered so far.
	Answered       []int
	TotalQuestions int
	// ShowTotal marks the final-tally rendering once the student has
	// reached the last question.
	ShowTotal bool
}

// Renderer turns a graded answer into the annotated artifact to send back.
type Renderer interface {
	Render(ctx context.Context, in Input) (string, error)
}

// Stamper is the default Renderer. It stamps a score panel onto the top
// of the photo and writes the result as a JPEG in its output directory.
type Stamper struct {
	outDir string
}

// NewStamper creates a Stamper writing artifacts into outDir.
func NewStamper(outDir string) *Stamper {
	return &Stamper{outDir: outDir}
}

var (
	penBlue  = color.NRGBA{R: 59, G: 158, B: 255, A: 255}
	penRed   = color.NRGBA{R: 220, G: 50, B: 47, A: 255}
	panelBG  = color.NRGBA{R: 255, G: 255, B: 255, A: 230}
	panelPad = 8
)

func (s *Stamper) Render(ctx context.Context, in Input) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	src, err := imaging.Open(in.AnswerImage, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("open answer image: %w", err)
	}
	canvas := imaging.Clone(src)

	lines := []string{fmt.Sprintf("%d / %d", in.Score, in.MaxScore)}
	if in.RunningTotal != nil {
		lines = append(lines, fmt.Sprintf("Total: %d / %d", in.RunningTotal.Current, in.RunningTotal.Max))
	}
	if in.TotalQuestions > 0 {
		lines = append(lines, fmt.Sprintf("Answered: %d of %d", len(in.Answered), in.TotalQuestions))
	}
	if in.ShowTotal && in.RunningTotal != nil {
		lines = append(lines, fmt.Sprintf("FINAL: %d / %d", in.RunningTotal.Current, in.RunningTotal.Max))
	}

	stampPanel(canvas, lines)

	out := filepath.Join(s.outDir, "graded_"+uuid.NewString()+".jpg")
	if err := imaging.Save(canvas, out, imaging.JPEGQuality(90)); err != nil {
		return "", fmt.Errorf("save annotated image: %w", err)
	}
	return out, nil
}

func stampPanel(canvas *image.NRGBA, lines []string) {
	face := basicfont.Face7x13
	lineHeight := face.Metrics().Height.Ceil() + 4

	width := 0
	for _, l := range lines {
		if w := font.MeasureString(face, l).Ceil(); w > width {
			width = w
		}
	}
	panel := image.Rect(0, 0, width+2*panelPad, len(lines)*lineHeight+2*panelPad)
	// Top-right corner, clamped to the image bounds.
	panel = panel.Add(image.Pt(canvas.Bounds().Max.X-panel.Dx(), 0)).Intersect(canvas.Bounds())
	draw.Draw(canvas, panel, image.NewUniform(panelBG), image.Point{}, draw.Over)

	for i, l := range lines {
		ink := penBlue
		if i == len(lines)-1 && len(lines) > 1 {
			ink = penRed
		}
		d := font.Drawer{
			Dst:  canvas,
			Src:  image.NewUniform(ink),
			Face: face,
			Dot: fixed.P(
				panel.Min.X+panelPad,
				panel.Min.Y+panelPad+face.Metrics().Ascent.Ceil()+i*lineHeight,
			),
		}
		d.DrawString(l)
	}
}
