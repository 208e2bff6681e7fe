package templates

import (
	"bytes"
	_ "embed"
)

//go:embed sample/product_management.yaml
var sampleBundle []byte

// SampleBundle returns the built-in product management bundle, containing
// the "Create New Feature" (FEATURE_001) and "Quick Enhancement"
// (ENHANCE_001) workflows.
func SampleBundle() (Bundle, error) {
	return DecodeBundle(bytes.NewReader(sampleBundle))
}
