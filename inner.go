package imageeditor

import "github.com/Skryldev/image-editor/core"

// Inner exposes the underlying core.Processor for advanced use (e.g., direct
// job submission in tests).  Prefer Apply and Enqueue for normal usage.
func (p *Processor) Inner() *core.Processor { return p.inner }

// Registry exposes the codec registry so alternative backends can replace the
// default codecs.
func (p *Processor) Registry() core.Registry { return p.reg }
