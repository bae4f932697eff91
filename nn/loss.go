package nn

import "fmt"

// MSELoss returns mean((pred - target)^2) and its gradient w.r.t. pred.
func MSELoss(pred, target *Tensor[float32]) (float32, *Tensor[float32], error) {
	if len(pred.Data) != len(target.Data) || len(pred.Data) == 0 {
		return 0, nil, fmt.Errorf("%w: mse between %v and %v", ErrShapeMismatch, pred.Shape, target.Shape)
	}

	n := float32(len(pred.Data))
	grad := NewTensor[float32](pred.Shape...)
	var sum float64
	for i, p := range pred.Data {
		diff := p - target.Data[i]
		sum += float64(diff * diff)
		grad.Data[i] = 2 * diff / n
	}
	return float32(sum / float64(n)), grad, nil
}
