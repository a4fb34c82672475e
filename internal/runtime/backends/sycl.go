//go:build !nosycl
// +build !nosycl

package backends

import (
	_ "github.com/fxnlabs/gpurt/internal/runtime/sycl"
)

// SYCLEnabled reports whether the sycl backend was compiled in.
const SYCLEnabled = true
