// Package errors provides structured error types for the korg bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type includes rich context: argument path, Go/WIT type names, and cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseBridge, errors.KindTypeMismatch).
//		Path("synth", "flux").
//		GoType("[]float64").
//		WitType("list<f32>").
//		Detail("element type differs from the foreign vector").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.TypeMismatch(errors.PhaseBridge, path, "[]float64", "list<f32>")
//	err := errors.ArgumentShape("alpha_H", "sentinel policy requires a nullable domain")
//
// Failures raised inside the foreign engine are not folded into this taxonomy.
// They are returned as *ForeignCallError, whose message is the engine's text verbatim.
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
