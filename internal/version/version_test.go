// ABOUTME: Tests for version constants
// ABOUTME: Ensures identification strings are usable in device info
package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentificationDefined(t *testing.T) {
	for name, v := range map[string]string{
		"version":      Version,
		"product":      Product,
		"manufacturer": Manufacturer,
	} {
		assert.NotEmpty(t, v, name)
		assert.LessOrEqual(t, len(v), 100, name)
		assert.NotContains(t, []string{"TODO", "FIXME", "placeholder"}, v, name)
	}
}
