//go:build nosycl
// +build nosycl

package backends

// SYCLEnabled reports whether the sycl backend was compiled in.
const SYCLEnabled = false
