package kalman

import "math"

// Vec3 is the filter state: position, velocity, acceleration.
type Vec3 [3]float64

// Mat3 is a row-major 3x3 matrix. Mat3 values are copied on assignment, so
// returning one never aliases the estimator's storage.
type Mat3 [3][3]float64

// Row3 is a 1x3 matrix (the measurement matrix H).
type Row3 [3]float64

// Identity3 returns the 3x3 identity.
func Identity3() Mat3 {
	return Diag3(1, 1, 1)
}

// Diag3 returns a diagonal matrix.
func Diag3(a, b, c float64) Mat3 {
	return Mat3{
		{a, 0, 0},
		{0, b, 0},
		{0, 0, c},
	}
}

// Mul returns m * n.
func (m Mat3) Mul(n Mat3) Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += m[i][k] * n[k][j]
			}
			out[i][j] = sum
		}
	}
	return out
}

// MulVec returns m * v.
func (m Mat3) MulVec(v Vec3) Vec3 {
	var out Vec3
	for i := 0; i < 3; i++ {
		out[i] = m[i][0]*v[0] + m[i][1]*v[1] + m[i][2]*v[2]
	}
	return out
}

// T returns the transpose.
func (m Mat3) T() Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[j][i] = m[i][j]
		}
	}
	return out
}

// Add returns m + n.
func (m Mat3) Add(n Mat3) Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m[i][j] + n[i][j]
		}
	}
	return out
}

// Sub returns m - n.
func (m Mat3) Sub(n Mat3) Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m[i][j] - n[i][j]
		}
	}
	return out
}

// Scale returns m * s.
func (m Mat3) Scale(s float64) Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m[i][j] * s
		}
	}
	return out
}

// Symmetrize returns (m + mᵀ) / 2.
func (m Mat3) Symmetrize() Mat3 {
	out := m
	for i := 0; i < 3; i++ {
		for j := i + 1; j < 3; j++ {
			avg := (m[i][j] + m[j][i]) / 2
			out[i][j] = avg
			out[j][i] = avg
		}
	}
	return out
}

// IsSymmetric reports whether every off-diagonal pair differs by at most tol.
func (m Mat3) IsSymmetric(tol float64) bool {
	for i := 0; i < 3; i++ {
		for j := i + 1; j < 3; j++ {
			if math.Abs(m[i][j]-m[j][i]) > tol {
				return false
			}
		}
	}
	return true
}

// IsFinite reports whether no entry is NaN or ±Inf.
func (m Mat3) IsFinite() bool {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.IsNaN(m[i][j]) || math.IsInf(m[i][j], 0) {
				return false
			}
		}
	}
	return true
}

// Diagonal returns (m[0][0], m[1][1], m[2][2]).
func (m Mat3) Diagonal() Vec3 {
	return Vec3{m[0][0], m[1][1], m[2][2]}
}

// Outer returns the column vector a times the row vector b.
func Outer(a Vec3, b Row3) Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = a[i] * b[j]
		}
	}
	return out
}

// Dot returns h · v, the 1x1 product H x.
func (h Row3) Dot(v Vec3) float64 {
	return h[0]*v[0] + h[1]*v[1] + h[2]*v[2]
}

// Add returns v + w.
func (v Vec3) Add(w Vec3) Vec3 {
	return Vec3{v[0] + w[0], v[1] + w[1], v[2] + w[2]}
}

// Scale returns v * s.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v[0] * s, v[1] * s, v[2] * s}
}

// IsFinite reports whether no component is NaN or ±Inf.
func (v Vec3) IsFinite() bool {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Position, Velocity and Acceleration name the state components.
func (v Vec3) Position() float64     { return v[0] }
func (v Vec3) Velocity() float64     { return v[1] }
func (v Vec3) Acceleration() float64 { return v[2] }
