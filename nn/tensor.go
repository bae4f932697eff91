package nn

import "fmt"

// Numeric is the set of element types a Tensor can hold.
type Numeric interface {
	~int32 | ~int64 | ~float32 | ~float64
}

// Tensor is a dense row-major array with an explicit shape.
type Tensor[T Numeric] struct {
	Data  []T
	Shape []int
}

// NewTensor allocates a zero-filled tensor of the given shape.
func NewTensor[T Numeric](shape ...int) *Tensor[T] {
	size := 1
	for _, d := range shape {
		size *= d
	}
	return &Tensor[T]{
		Data:  make([]T, size),
		Shape: append([]int(nil), shape...),
	}
}

// NewTensorFromSlice wraps data without copying it.
func NewTensorFromSlice[T Numeric](data []T, shape ...int) *Tensor[T] {
	return &Tensor[T]{
		Data:  data,
		Shape: append([]int(nil), shape...),
	}
}

// Size returns the number of elements.
func (t *Tensor[T]) Size() int {
	return len(t.Data)
}

// Clone returns a deep copy.
func (t *Tensor[T]) Clone() *Tensor[T] {
	data := make([]T, len(t.Data))
	copy(data, t.Data)
	return &Tensor[T]{
		Data:  data,
		Shape: append([]int(nil), t.Shape...),
	}
}

// Reshape returns a view with a new shape sharing the same data.
// It returns nil when the element counts differ.
func (t *Tensor[T]) Reshape(shape ...int) *Tensor[T] {
	size := 1
	for _, d := range shape {
		size *= d
	}
	if size != len(t.Data) {
		return nil
	}
	return &Tensor[T]{
		Data:  t.Data,
		Shape: append([]int(nil), shape...),
	}
}

// Zero sets every element to zero.
func (t *Tensor[T]) Zero() {
	clear(t.Data)
}

// Dims4 unpacks a [B, C, H, W] shape.
func (t *Tensor[T]) Dims4() (b, c, h, w int, err error) {
	if len(t.Shape) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("%w: want rank 4, got shape %v", ErrShapeMismatch, t.Shape)
	}
	if t.Shape[0]*t.Shape[1]*t.Shape[2]*t.Shape[3] != len(t.Data) {
		return 0, 0, 0, 0, fmt.Errorf("%w: shape %v does not match %d elements", ErrShapeMismatch, t.Shape, len(t.Data))
	}
	return t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3], nil
}

// SameShape reports whether a and b have identical shapes.
func SameShape[T Numeric](a, b *Tensor[T]) bool {
	if len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return true
}

// ChannelsLast permutes a [B, C, H, W] tensor into a flat [B*H*W, C] matrix.
func ChannelsLast(x *Tensor[float32]) (*Tensor[float32], error) {
	b, c, h, w, err := x.Dims4()
	if err != nil {
		return nil, err
	}
	out := NewTensor[float32](b*h*w, c)
	hw := h * w
	for n := 0; n < b; n++ {
		for ch := 0; ch < c; ch++ {
			src := x.Data[(n*c+ch)*hw : (n*c+ch+1)*hw]
			for p, v := range src {
				out.Data[(n*hw+p)*c+ch] = v
			}
		}
	}
	return out, nil
}

// ChannelsFirst is the inverse of ChannelsLast: [B*H*W, C] -> [B, C, H, W].
func ChannelsFirst(x *Tensor[float32], b, h, w int) (*Tensor[float32], error) {
	if len(x.Shape) != 2 || x.Shape[0] != b*h*w {
		return nil, fmt.Errorf("%w: cannot fold shape %v into [%d, *, %d, %d]", ErrShapeMismatch, x.Shape, b, h, w)
	}
	c := x.Shape[1]
	out := NewTensor[float32](b, c, h, w)
	hw := h * w
	for n := 0; n < b; n++ {
		for p := 0; p < hw; p++ {
			row := x.Data[(n*hw+p)*c : (n*hw+p+1)*c]
			for ch, v := range row {
				out.Data[(n*c+ch)*hw+p] = v
			}
		}
	}
	return out, nil
}
