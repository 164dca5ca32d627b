// Package vm implements the Marionette virtual machine.
//
// This package contains:
//   - Typed value and structural type representation
//   - The four-region memory model (Literal, Work, Debug, External)
//   - Generation-checked operand handle caching
//   - Bytecode representation, validation, and the interpreter loop
//   - Slice-scoped nested iteration for dynamically sized operands
//   - Deferred copy-on-write instance cloning
//   - Breakpoint, step, and watch debugging
package vm
