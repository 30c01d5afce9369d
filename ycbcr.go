package bufmap

import "fmt"

// LayoutError describes why a flexible layout cannot be viewed as YCbCr.
type LayoutError struct {
	// Plane is the component of the offending plane, or 0 when the problem
	// is not specific to one plane.
	Plane FlexComponent

	// Reason is a human-readable description.
	Reason string
}

func (e *LayoutError) Error() string {
	if e.Plane != 0 {
		return fmt.Sprintf("%v plane: %s", e.Plane, e.Reason)
	}
	return e.Reason
}

// Is reports ErrUnsupported, so StatusOf treats a bare LayoutError as
// StatusUnsupported.
func (e *LayoutError) Is(target error) bool {
	return target == ErrUnsupported
}

// ResolveYCbCr builds a three-plane YCbCr view from a flexible layout.
//
// The layout must be tagged FlexFormatYCbCr and contain a Y, a Cb and a Cr
// plane. When a component appears more than once, the last plane carrying it
// wins. Each of the three planes must use 8 bits per component, all of them
// significant, a positive row stride and a horizontal step of 1 (2 is also
// allowed for chroma). Cb and Cr must share row stride and horizontal step.
//
// The view points into the same memory as the planes; nothing is copied.
// Any violation is reported as a *LayoutError.
func ResolveYCbCr(layout FlexLayout) (YCbCr, error) {
	if layout.Format != FlexFormatYCbCr {
		return YCbCr{}, &LayoutError{
			Reason: fmt.Sprintf("flex format %v cannot be converted to YCbCr", layout.Format),
		}
	}

	var y, cb, cr *FlexPlane
	for i := range layout.Planes {
		p := &layout.Planes[i]
		switch p.Component {
		case FlexComponentY:
			y = p
		case FlexComponentCb:
			cb = p
		case FlexComponentCr:
			cr = p
		}
	}
	if y == nil {
		return YCbCr{}, &LayoutError{Plane: FlexComponentY, Reason: "missing"}
	}
	if cb == nil {
		return YCbCr{}, &LayoutError{Plane: FlexComponentCb, Reason: "missing"}
	}
	if cr == nil {
		return YCbCr{}, &LayoutError{Plane: FlexComponentCr, Reason: "missing"}
	}

	for _, p := range [...]*FlexPlane{y, cb, cr} {
		if err := validateYCbCrPlane(p); err != nil {
			return YCbCr{}, err
		}
	}

	if cb.VIncrement != cr.VIncrement {
		return YCbCr{}, &LayoutError{
			Reason: fmt.Sprintf("Cb and Cr planes have different row strides (%d vs. %d)",
				cb.VIncrement, cr.VIncrement),
		}
	}
	if cb.HIncrement != cr.HIncrement {
		return YCbCr{}, &LayoutError{
			Reason: fmt.Sprintf("Cb and Cr planes have different chroma steps (%d vs. %d)",
				cb.HIncrement, cr.HIncrement),
		}
	}

	return YCbCr{
		Y:          y.TopLeft,
		Cb:         cb.TopLeft,
		Cr:         cr.TopLeft,
		YStride:    int(y.VIncrement),
		CStride:    int(cb.VIncrement),
		ChromaStep: int(cb.HIncrement),
	}, nil
}

// validateYCbCrPlane checks the structural requirements of one plane.
func validateYCbCrPlane(p *FlexPlane) error {
	if p.BitsPerComponent != 8 {
		return &LayoutError{
			Plane:  p.Component,
			Reason: fmt.Sprintf("invalid number of bits per component: %d", p.BitsPerComponent),
		}
	}
	if p.BitsUsed != 8 {
		return &LayoutError{
			Plane:  p.Component,
			Reason: fmt.Sprintf("invalid number of bits used: %d", p.BitsUsed),
		}
	}

	validIncrement := p.HIncrement == 1 ||
		(p.Component != FlexComponentY && p.HIncrement == 2)
	if !validIncrement || p.VIncrement <= 0 {
		return &LayoutError{
			Plane:  p.Component,
			Reason: fmt.Sprintf("invalid increment: h %d v %d", p.HIncrement, p.VIncrement),
		}
	}
	return nil
}
