package kalman

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// DefaultCovarianceTolerance bounds asymmetry and negative eigenvalues
// attributable to floating-point rounding.
const DefaultCovarianceTolerance = 1e-9

var (
	ErrCovarianceNotFinite  = errors.New("kalman: covariance has non-finite entries")
	ErrCovarianceAsymmetric = errors.New("kalman: covariance is not symmetric")
	ErrCovarianceNotPSD     = errors.New("kalman: covariance is not positive semi-definite")
)

// CheckCovariance verifies that p is finite, symmetric within tol and
// positive semi-definite (smallest eigenvalue >= -tol).
func CheckCovariance(p Mat3, tol float64) error {
	if !p.IsFinite() {
		return ErrCovarianceNotFinite
	}
	if !p.IsSymmetric(tol) {
		return ErrCovarianceAsymmetric
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(p.SymDense(), false); !ok {
		return fmt.Errorf("%w: eigendecomposition failed", ErrCovarianceNotPSD)
	}
	// Values are returned in ascending order.
	if smallest := eig.Values(nil)[0]; smallest < -tol {
		return fmt.Errorf("%w: smallest eigenvalue %g", ErrCovarianceNotPSD, smallest)
	}
	return nil
}

// SymDense returns the symmetric part of m as a gonum matrix.
func (m Mat3) SymDense() *mat.SymDense {
	s := m.Symmetrize()
	return mat.NewSymDense(3, []float64{
		s[0][0], s[0][1], s[0][2],
		s[1][0], s[1][1], s[1][2],
		s[2][0], s[2][1], s[2][2],
	})
}

// Dense returns m as a gonum matrix, for formatting and interop.
func (m Mat3) Dense() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		m[0][0], m[0][1], m[0][2],
		m[1][0], m[1][1], m[1][2],
		m[2][0], m[2][1], m[2][2],
	})
}

// String formats m with gonum's matrix formatter.
func (m Mat3) String() string {
	return fmt.Sprintf("%v", mat.Formatted(m.Dense(), mat.Squeeze()))
}
