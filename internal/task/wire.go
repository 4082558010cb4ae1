package task

import (
	"github.com/Helcaraxan/helm-toolchain/internal/toolchain"
)

// DefaultPropertyName is the property through which test tasks receive the Helm executable.
const DefaultPropertyName = "com.rrmoore.helm.test.executable.path"

var _ FileSource = &toolchain.Deferred{}

// Wire passes the executable of cfg to every test task, present and future. The executable is only
// realized when one of those tasks runs.
func Wire(c *Container, cfg *toolchain.Configuration, propertyName string) {
	if propertyName == "" {
		propertyName = DefaultPropertyName
	}
	c.ConfigureEach(KindTest, func(t *Task) {
		t.AddArgumentProvider(&FileArgumentProvider{PropertyName: propertyName, File: cfg.Executable()})
	})
}
