// Package kalman implements the constant-acceleration linear Kalman filter
// used to estimate terrain depth from rangefinder readings.
//
// Responsibilities: the system model (F, Q, H, R), the predict/update
// recursion, and non-persistent projection for emulating sensor delay.
// Key types: Model, Estimator, Vec3, Mat3.
//
// Dependency rule: no I/O. Callers supply measurements and keep history.
package kalman
