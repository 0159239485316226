// Package toolrun invokes the external toolchain binaries the pipeline
// drives (lipo, codesign, xcrun, ditto). It captures exit status and output
// and maps failures to typed errors; retry policy lives with callers.
package toolrun
