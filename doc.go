// Package rigid simulates batches of independent 3D rigid-multibody scenes
// in generalized coordinates.
//
// A scene is compiled once into an immutable Model (bodies, joints, geoms,
// equality constraints). Each simulated replica owns a State holding its
// generalized position and velocity vectors plus applied-force buffers.
// Step advances one State by one time step: forward kinematics, sweep-and-
// prune broad-phase, per-shape-pair narrow-phase contact generation,
// constraint row assembly (equality, joint limit, contact normal, friction),
// a projected Gauss-Seidel impulse solve, and semi-implicit Euler
// integration. Batch runs many States against one shared Model on a worker
// pool with full instance isolation.
//
// Determinism: given identical Model, State, dt and Config, Step is
// bit-reproducible. All reductions use a fixed order: dense dot products
// run over dof indices ascending, constraint rows are assembled and swept
// first-to-last in a fixed order (equality rows, then limit rows in joint
// order, then per-contact rows in broad-phase pair order), and the solver
// applies each row fully before visiting the next.
package rigid
