// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package store

import "github.com/gogpu/bufmap"

// rowAlign is the row alignment of every plane, in bytes.
const rowAlign = 16

func alignUp(v, a int) int {
	return (v + a - 1) / a * a
}

// plane is one component plane of a buffer layout. Offsets are relative to
// the start of the buffer memory.
type plane struct {
	component bufmap.FlexComponent
	start     int // first byte of the plane
	size      int // bytes from start to the end of the plane
	offset    int // offset of the first sample of this component within the plane
	hinc      int
	vinc      int
	hsub      int
	vsub      int
}

// layout is the memory layout of one buffer layer.
type layout struct {
	stride int // pixels
	bpp    int
	size   int // bytes per layer
	flex   bufmap.FlexFormat
	planes []plane
}

// layoutFor computes the memory layout of a buffer.
func layoutFor(d Descriptor) (layout, error) {
	w, h := int(d.Width), int(d.Height)
	ystride := alignUp(w, rowAlign)

	switch d.Format {
	case bufmap.PixelFormatYCbCr420888:
		cstride := alignUp((w+1)/2, rowAlign)
		ch := (h + 1) / 2
		cb := ystride * h
		cr := cb + cstride*ch
		return layout{
			stride: ystride,
			bpp:    1,
			size:   cr + cstride*ch,
			flex:   bufmap.FlexFormatYCbCr,
			planes: []plane{
				lumaPlane(ystride, h, 1),
				chromaPlane(bufmap.FlexComponentCb, cb, cstride*ch, 0, 1, cstride, 2, 2),
				chromaPlane(bufmap.FlexComponentCr, cr, cstride*ch, 0, 1, cstride, 2, 2),
			},
		}, nil

	case bufmap.PixelFormatYV12:
		cstride := alignUp(ystride/2, rowAlign)
		ch := (h + 1) / 2
		cr := ystride * h
		cb := cr + cstride*ch
		return layout{
			stride: ystride,
			bpp:    1,
			size:   cb + cstride*ch,
			flex:   bufmap.FlexFormatYCbCr,
			planes: []plane{
				lumaPlane(ystride, h, 1),
				chromaPlane(bufmap.FlexComponentCr, cr, cstride*ch, 0, 1, cstride, 2, 2),
				chromaPlane(bufmap.FlexComponentCb, cb, cstride*ch, 0, 1, cstride, 2, 2),
			},
		}, nil

	case bufmap.PixelFormatYCbCr420SP, bufmap.PixelFormatYCrCb420SP, bufmap.PixelFormatYCbCr422SP:
		ch, vsub := (h+1)/2, 2
		if d.Format == bufmap.PixelFormatYCbCr422SP {
			ch, vsub = h, 1
		}
		cbOff, crOff := 0, 1
		if d.Format == bufmap.PixelFormatYCrCb420SP {
			cbOff, crOff = 1, 0
		}
		c := ystride * h
		return layout{
			stride: ystride,
			bpp:    1,
			size:   c + ystride*ch,
			flex:   bufmap.FlexFormatYCbCr,
			planes: []plane{
				lumaPlane(ystride, h, 1),
				chromaPlane(bufmap.FlexComponentCb, c, ystride*ch, cbOff, 2, ystride, 2, vsub),
				chromaPlane(bufmap.FlexComponentCr, c, ystride*ch, crOff, 2, ystride, 2, vsub),
			},
		}, nil

	case bufmap.PixelFormatYCbCr422I:
		// Y0 Cb Y1 Cr
		rowBytes := ystride * 2
		size := rowBytes * h
		return layout{
			stride: ystride,
			bpp:    2,
			size:   size,
			flex:   bufmap.FlexFormatYCbCr,
			planes: []plane{
				lumaPlane(rowBytes, h, 2),
				chromaPlane(bufmap.FlexComponentCb, 0, size, 1, 4, rowBytes, 2, 1),
				chromaPlane(bufmap.FlexComponentCr, 0, size, 3, 4, rowBytes, 2, 1),
			},
		}, nil

	case bufmap.PixelFormatY8:
		return layout{
			stride: ystride,
			bpp:    1,
			size:   ystride * h,
			flex:   bufmap.FlexFormatY,
			planes: []plane{lumaPlane(ystride, h, 1)},
		}, nil

	case bufmap.PixelFormatBlob:
		return layout{stride: w, bpp: 1, size: w * h}, nil
	}

	bpp := d.Format.BytesPerPixel()
	if bpp == 0 {
		return layout{}, ErrUnsupported
	}
	return layout{stride: ystride, bpp: bpp, size: ystride * bpp * h}, nil
}

func lumaPlane(rowBytes, rows, hinc int) plane {
	return plane{
		component: bufmap.FlexComponentY,
		size:      rowBytes * rows,
		hinc:      hinc,
		vinc:      rowBytes,
		hsub:      1,
		vsub:      1,
	}
}

func chromaPlane(c bufmap.FlexComponent, start, size, offset, hinc, vinc, hsub, vsub int) plane {
	return plane{
		component: c,
		start:     start,
		size:      size,
		offset:    offset,
		hinc:      hinc,
		vinc:      vinc,
		hsub:      hsub,
		vsub:      vsub,
	}
}

// flexPlanes returns the planes of the first layer of data, each starting at
// the sample of the region's top-left pixel.
func (l layout) flexPlanes(data []byte, r bufmap.Rect) []bufmap.FlexPlane {
	planes := make([]bufmap.FlexPlane, len(l.planes))
	for i, p := range l.planes {
		off := p.start + p.offset +
			int(r.Top)/p.vsub*p.vinc +
			int(r.Left)/p.hsub*p.hinc
		end := p.start + p.size
		if off > end {
			off = end
		}
		planes[i] = bufmap.FlexPlane{
			TopLeft:          data[off:end:end],
			Component:        p.component,
			BitsPerComponent: 8,
			BitsUsed:         8,
			HIncrement:       int32(p.hinc),
			VIncrement:       int32(p.vinc),
			HSubsampling:     int32(p.hsub),
			VSubsampling:     int32(p.vsub),
		}
	}
	return planes
}
