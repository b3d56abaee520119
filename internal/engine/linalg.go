package engine

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// truncatedSVD factorizes a into its top-k singular triplets. u is m×k, v is
// n×k and s holds the k largest singular values in descending order.
func truncatedSVD(a mat.Matrix, k int) (u *mat.Dense, s []float64, v *mat.Dense, err error) {
	m, n := a.Dims()
	if k > min(m, n) {
		k = min(m, n)
	}
	if k <= 0 {
		return nil, nil, nil, fmt.Errorf("truncated svd of %dx%d matrix with rank %d", m, n, k)
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, nil, nil, fmt.Errorf("svd factorization of %dx%d matrix did not converge", m, n)
	}

	values := svd.Values(nil)
	var fullU, fullV mat.Dense
	svd.UTo(&fullU)
	svd.VTo(&fullV)

	u = mat.DenseCopyOf(fullU.Slice(0, m, 0, k))
	v = mat.DenseCopyOf(fullV.Slice(0, n, 0, k))
	s = append([]float64(nil), values[:k]...)

	return u, s, v, nil
}

// pseudoInverse computes the Moore–Penrose pseudo-inverse of a through its
// SVD, zeroing singular values below max(m,n)·σmax·ε.
func pseudoInverse(a mat.Matrix) (*mat.Dense, error) {
	m, n := a.Dims()

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, fmt.Errorf("pseudo-inverse of %dx%d matrix: svd did not converge", m, n)
	}

	values := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	tol := 0.0
	if len(values) > 0 {
		tol = float64(max(m, n)) * values[0] * epsilon64
	}

	inv := make([]float64, len(values))
	for i, sv := range values {
		if sv > tol {
			inv[i] = 1 / sv
		}
	}

	// pinv = V · diag(1/s) · Uᵀ
	var vs mat.Dense
	vs.Apply(func(_, j int, x float64) float64 { return x * inv[j] }, &v)

	var out mat.Dense
	out.Mul(&vs, u.T())
	return &out, nil
}

// epsilon64 is the float64 machine epsilon.
const epsilon64 = 2.220446049250313e-16
